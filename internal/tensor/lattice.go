package tensor

import "math"

// Parameters are stored on a fixed-point lattice embedded in float64:
// every value is an integer multiple of Quantum with magnitude at most
// MaxMagnitude. The sum of two lattice values whose magnitude stays below
// 2^(53-LatticeBits) is exactly representable, so adding and subtracting
// the same lattice perturbation restores the original bits.
const (
	// LatticeBits is the number of fractional bits of the lattice.
	LatticeBits = 40

	// Quantum is the lattice spacing, 2^-40 (about 9.1e-13).
	Quantum = 1.0 / (1 << LatticeBits)

	// MaxMagnitude bounds committed parameter values. The remaining
	// headroom up to 2^13 absorbs in-flight perturbations.
	MaxMagnitude = 1 << 11

	// Headroom is the largest perturbation magnitude that keeps every
	// intermediate sum exact.
	Headroom = 1<<13 - MaxMagnitude - 1
)

// Snap rounds v to the nearest lattice point.
func Snap(v float64) float64 {
	return math.Ldexp(math.Round(math.Ldexp(v, LatticeBits)), -LatticeBits)
}

// OnLattice reports whether v is a lattice point within MaxMagnitude.
func OnLattice(v float64) bool {
	return math.Abs(v) <= MaxMagnitude && Snap(v) == v
}

// SnapInPlace moves every element of t onto the lattice.
//
// Returns a *ValueError wrapping ErrNonFinite or ErrLatticeOverflow for the
// first element that cannot be represented; elements before it are snapped.
func (t *Tensor) SnapInPlace(name string) error {
	for i, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValueError{Tensor: name, Index: i, Value: v, Err: ErrNonFinite}
		}
		s := Snap(v)
		if math.Abs(s) > MaxMagnitude {
			return &ValueError{Tensor: name, Index: i, Value: v, Err: ErrLatticeOverflow}
		}
		t.data[i] = s
	}
	return nil
}
