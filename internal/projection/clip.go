package projection

import (
	"fmt"
	"math"

	"github.com/born-ml/dizo/internal/zo"
)

// Clip strategy names accepted by ParseClip.
const (
	ClipGlobal      = "global"
	ClipLayer       = "layer"
	ClipCoefficient = "coefficient"
)

// Clipper bounds the magnitude of an update direction.
//
// norms are the per-layer L2 norms of the unweighted direction, as
// returned by zo.Direction.LayerNorms. A magnitude above limit comes out
// equal to limit; magnitudes at or below it are left alone.
type Clipper interface {
	Name() string
	Clip(d zo.Direction, norms []float64, limit float64) zo.Direction
}

// ParseClip returns the clip strategy registered under name.
// An empty name selects the global strategy.
func ParseClip(name string) (Clipper, error) {
	switch name {
	case "", ClipGlobal:
		return GlobalClip{}, nil
	case ClipLayer:
		return LayerClip{}, nil
	case ClipCoefficient:
		return CoefficientClip{}, nil
	default:
		return nil, fmt.Errorf("unknown clip strategy %q", name)
	}
}

// Magnitude returns the L2 norm of the weighted direction,
// sqrt(Σ_l (w_l n_l)²).
func Magnitude(d zo.Direction, norms []float64) float64 {
	var sq float64
	for l, n := range norms {
		v := d.Weights[l] * n
		sq += v * v
	}
	return math.Sqrt(sq)
}

// GlobalClip rescales every layer weight so that the whole direction has
// L2 norm at most limit.
type GlobalClip struct{}

// Name returns "global".
func (GlobalClip) Name() string { return ClipGlobal }

// Clip implements Clipper.
func (GlobalClip) Clip(d zo.Direction, norms []float64, limit float64) zo.Direction {
	out := d.Clone()
	m := Magnitude(d, norms)
	if m <= limit || m == 0 {
		return out
	}
	s := limit / m
	for l := range out.Weights {
		out.Weights[l] *= s
	}
	return out
}

// LayerClip bounds the L2 norm of every layer contribution separately.
type LayerClip struct{}

// Name returns "layer".
func (LayerClip) Name() string { return ClipLayer }

// Clip implements Clipper.
func (LayerClip) Clip(d zo.Direction, norms []float64, limit float64) zo.Direction {
	out := d.Clone()
	for l, n := range norms {
		if math.Abs(out.Weights[l])*n > limit {
			out.Weights[l] = math.Copysign(limit/n, out.Weights[l])
		}
	}
	return out
}

// CoefficientClip bounds every projected-gradient coefficient to
// [-limit, limit]. It changes the unweighted direction, so layer norms
// computed before clipping no longer apply to the result.
type CoefficientClip struct{}

// Name returns "coefficient".
func (CoefficientClip) Name() string { return ClipCoefficient }

// Clip implements Clipper.
func (CoefficientClip) Clip(d zo.Direction, _ []float64, limit float64) zo.Direction {
	out := d.Clone()
	for k, c := range out.Coefficients {
		if math.Abs(c) > limit {
			out.Coefficients[k] = math.Copysign(limit, c)
		}
	}
	return out
}
