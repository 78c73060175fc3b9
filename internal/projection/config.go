package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Mode selects how the per-layer scaling factors are learned.
type Mode string

// Supported projection modes.
const (
	ModeNone Mode = "none" // No projection; weights stay 1
	ModeZO   Mode = "zo"   // Finite differences over the scaling factors
	ModeFO   Mode = "fo"   // Exact gradients through nn.GradEvaluator, Adam
)

// ParseMode parses a projection mode name. An empty name selects ModeNone.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeZO, ModeFO:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown projection mode %q", s)
	}
}

// NormMode selects how the drift of a layer is measured.
type NormMode string

// Supported norm modes.
const (
	NormL2   NormMode = "l2"   // L2 norm of the whole layer
	NormMARS NormMode = "mars" // L1 norm of every row; the layer reference is the row mean
)

// ParseNormMode parses a norm mode name. An empty name selects NormL2.
func ParseNormMode(s string) (NormMode, error) {
	switch NormMode(s) {
	case "", NormL2:
		return NormL2, nil
	case NormMARS:
		return NormMARS, nil
	default:
		return "", fmt.Errorf("unknown norm mode %q", s)
	}
}

// ErrGradientUnavailable is returned by a first-order refresh when the
// evaluator cannot produce gradients.
var ErrGradientUnavailable = errors.New("projection: evaluator does not implement nn.GradEvaluator")

// Config configures a Projector.
type Config struct {
	Mode         Mode           // Learning mode (default: none)
	NormMode     NormMode       // Drift measure (default: l2)
	LR           float64        // Learning rate (default: 10 for zo, 0.1 for fo)
	Iterations   int            // Batches per refresh (default: 10)
	PerturbScale float64        // zo: relative perturbation of the scaling factors (default: 0.2)
	GammaBound   float64        // Factors stay within [(1-b)t, (1+b)t] of the drift t (default: 0.2)
	L1Penalty    float64        // fo: L1 penalty on the factors (default: 1e-3, negative disables)
	Include      []string       // Glob patterns of projected parameters (default: all trainable)
	Exclude      []string       // Glob patterns removed from the projected set
	Logger       zerolog.Logger // Refresh logging (default: no-op)
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeNone
	}
	if c.NormMode == "" {
		c.NormMode = NormL2
	}
	if c.LR == 0 {
		c.LR = 10
		if c.Mode == ModeFO {
			c.LR = 0.1
		}
	}
	if c.Iterations == 0 {
		c.Iterations = 10
	}
	if c.PerturbScale == 0 {
		c.PerturbScale = 0.2
	}
	if c.GammaBound == 0 {
		c.GammaBound = 0.2
	}
	if c.L1Penalty == 0 {
		c.L1Penalty = 1e-3
	}
	if c.L1Penalty < 0 {
		c.L1Penalty = 0
	}
	return c
}

func (c Config) validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := ParseNormMode(string(c.NormMode)); err != nil {
		return err
	}
	switch {
	case !(c.LR > 0) || math.IsInf(c.LR, 0):
		return fmt.Errorf("projection learning rate must be positive, got %g", c.LR)
	case c.Iterations < 0:
		return fmt.Errorf("projection iterations must be positive, got %d", c.Iterations)
	case !(c.PerturbScale > 0) || math.IsInf(c.PerturbScale, 0):
		return fmt.Errorf("perturb scale must be positive, got %g", c.PerturbScale)
	case !(c.GammaBound > 0 && c.GammaBound < 1):
		return fmt.Errorf("gamma bound must be in (0, 1), got %g", c.GammaBound)
	}
	return nil
}
