package zo

import (
	"math"

	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/perturb"
	"github.com/born-ml/dizo/internal/tensor"
)

// Pair is one sampled direction and its projected-gradient coefficient.
type Pair struct {
	Seed        uint64
	Coefficient float64
}

// Estimate is an implicit gradient estimate.
//
// The gradient is never materialised: it is (1/n) Σ c_k u_k where u_k is
// the realised unit direction of Pairs[k].Seed, and is reconstructed on
// demand by replaying the seeds.
type Estimate struct {
	Pairs     []Pair
	Epsilon   float64
	LossPlus  []float64 // Loss at +epsilon, per direction
	LossMinus []float64 // Loss at -epsilon, per direction
	Skipped   int       // Directions dropped because a loss was not finite
}

// Seeds returns the direction seeds in order.
func (e *Estimate) Seeds() []uint64 {
	seeds := make([]uint64, len(e.Pairs))
	for i, p := range e.Pairs {
		seeds[i] = p.Seed
	}
	return seeds
}

// Coefficients returns the coefficients in order.
func (e *Estimate) Coefficients() []float64 {
	coefs := make([]float64, len(e.Pairs))
	for i, p := range e.Pairs {
		coefs[i] = p.Coefficient
	}
	return coefs
}

// Loss returns the mean finite loss observed at +epsilon, or NaN if none was finite.
func (e *Estimate) Loss() float64 {
	var sum float64
	n := 0
	for _, l := range e.LossPlus {
		if !math.IsNaN(l) && !math.IsInf(l, 0) {
			sum += l
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Direction is an estimate together with the per-layer weights and
// effective coefficients chosen by the projection step.
//
// The update direction of trainable tensor l is
//
//	Weights[l] * (1/n) Σ_k Coefficients[k] * u_k
type Direction struct {
	Estimate     *Estimate
	Coefficients []float64
	Weights      []float64
}

// NewDirection wraps est with unit weights for the given number of layers.
func NewDirection(est *Estimate, layers int) Direction {
	w := make([]float64, layers)
	for i := range w {
		w[i] = 1
	}
	return Direction{
		Estimate:     est,
		Coefficients: est.Coefficients(),
		Weights:      w,
	}
}

// Clone returns a copy whose slices can be modified independently.
func (d Direction) Clone() Direction {
	return Direction{
		Estimate:     d.Estimate,
		Coefficients: append([]float64(nil), d.Coefficients...),
		Weights:      append([]float64(nil), d.Weights...),
	}
}

// Mixer returns the replay mixer for layer, with coefficients averaged over directions.
func (d Direction) Mixer(layer int) perturb.Mixer {
	n := float64(len(d.Coefficients))
	avg := make([]float64, len(d.Coefficients))
	for k, c := range d.Coefficients {
		avg[k] = c / n
	}
	return perturb.NewMixer(d.Estimate.Seeds(), avg, d.Estimate.Epsilon, layer)
}

// LayerNorms returns the L2 norm of the unweighted direction
// (1/n) Σ c_k u_k restricted to each tensor of ts.
//
// The norms are computed by replaying seeds; nothing proportional to the
// parameter count is allocated.
func (d Direction) LayerNorms(ts []*tensor.Tensor, par parallel.Config) []float64 {
	norms := make([]float64, len(ts))
	if len(d.Coefficients) == 0 {
		return norms
	}
	for l, t := range ts {
		m := d.Mixer(l)
		sq := parallel.Sum(t.NumElements(), par, func(start, end int) float64 {
			var acc float64
			for i := start; i < end; i++ {
				v := m.At(i)
				acc += v * v
			}
			return acc
		})
		norms[l] = math.Sqrt(sq)
	}
	return norms
}
