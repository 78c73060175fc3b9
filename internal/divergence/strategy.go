package divergence

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Strategy turns the per-layer norms of the raw and the projected update
// directions into a scalar divergence. Zero means the projection left the
// direction unchanged; larger values mean stronger disagreement.
//
// Strategies see per-layer norms only. Projection, global clipping and
// layer clipping rescale whole layers, which the norms capture exactly.
// Coefficient clipping also turns the direction inside a layer; that
// rotation is invisible here, so a single-layer model reports a cosine
// divergence of 0 under coefficient clipping.
type Strategy interface {
	Name() string
	Divergence(raw, projected []float64) float64
}

// Strategy names accepted by ParseStrategy.
const (
	StrategyCosine    = "cosine"
	StrategyNormRatio = "norm_ratio"
)

// ParseStrategy returns the strategy registered under name.
// An empty name selects the cosine strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyCosine:
		return Cosine{}, nil
	case StrategyNormRatio:
		return NormRatio{}, nil
	default:
		return nil, fmt.Errorf("unknown divergence strategy %q", name)
	}
}

// Cosine measures 1 - cos(raw, projected).
type Cosine struct{}

// Name returns "cosine".
func (Cosine) Name() string { return StrategyCosine }

// Divergence returns 1 - Σ r_l p_l / (‖r‖ ‖p‖), or 0 if either direction is zero.
func (Cosine) Divergence(raw, projected []float64) float64 {
	nr, np := floats.Norm(raw, 2), floats.Norm(projected, 2)
	if nr == 0 || np == 0 {
		return 0
	}
	c := floats.Dot(raw, projected) / (nr * np)
	return math.Max(0, 1-c)
}

// NormRatio measures |ln(‖projected‖ / ‖raw‖)|.
type NormRatio struct{}

// Name returns "norm_ratio".
func (NormRatio) Name() string { return StrategyNormRatio }

// Divergence returns |ln(‖p‖/‖r‖)|, or 0 if either direction is zero.
func (NormRatio) Divergence(raw, projected []float64) float64 {
	nr, np := floats.Norm(raw, 2), floats.Norm(projected, 2)
	if nr == 0 || np == 0 {
		return 0
	}
	return math.Abs(math.Log(np / nr))
}
