package perturb

import "math"

// MaxNormal bounds |Normal(key, i)|: Box–Muller over 53-bit uniforms in
// (0, 1] never exceeds sqrt(-2 ln 2^-53) ≈ 8.5716.
const MaxNormal = 8.5717

const (
	golden   = 0x9e3779b97f4a7c15
	layerMix = 0x632be59bd9b4e019
)

// mix is the splitmix64 finaliser.
func mix(x uint64) uint64 {
	x += golden
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// LayerKey derives the generator key of one parameter tensor from a seed
// and the tensor's position in the trainable set.
func LayerKey(seed uint64, layer int) uint64 {
	return mix(seed ^ mix(uint64(layer)+layerMix)) //nolint:gosec // G115: layer index is non-negative.
}

// Normal returns the standard normal value of element i under key.
//
// It is a pure function of (key, i): elements can be generated in any
// order, in parallel, and regenerated later bit-for-bit.
func Normal(key uint64, i int) float64 {
	c := key + 2*uint64(i) //nolint:gosec // G115: element index is non-negative.
	h1 := mix(c)
	h2 := mix(c + 1)
	u1 := (float64(h1>>11) + 1) * 0x1p-53 // (0, 1]
	u2 := float64(h2>>11) * 0x1p-53       // [0, 1)
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// DeriveSeed returns the seed of direction k within a step seeded by base.
func DeriveSeed(base uint64, k int) uint64 {
	if k == 0 {
		return base
	}
	return mix(base + uint64(k)*golden) //nolint:gosec // G115: k is non-negative.
}
