package perturb

// Mixer evaluates a weighted sum of realised unit directions for one
// parameter tensor:
//
//	At(i) = Σ_k weight_k * q(eps * z_k(i)) / eps
//
// where z_k is the direction of seed k. The q(eps*z)/eps term is exactly
// the direction the estimator moved along, so a gradient estimate
// replayed through a Mixer matches the loss differences it came from.
type Mixer struct {
	keys    []uint64
	weights []float64
	eps     float64
}

// NewMixer prepares a Mixer for tensor index layer.
func NewMixer(seeds []uint64, weights []float64, eps float64, layer int) Mixer {
	keys := make([]uint64, len(seeds))
	for k, s := range seeds {
		keys[k] = LayerKey(s, layer)
	}
	return Mixer{keys: keys, weights: weights, eps: eps}
}

// At returns the mixed direction value of element i.
func (m Mixer) At(i int) float64 {
	var acc float64
	for k, key := range m.keys {
		w := m.weights[k]
		if w == 0 {
			continue
		}
		acc += w * Step(key, i, m.eps)
	}
	return acc / m.eps
}
