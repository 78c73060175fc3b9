package optim

import (
	"fmt"
	"math"
)

// Schedule names accepted by NewSchedule.
const (
	ScheduleConstant = "constant"
	ScheduleLinear   = "linear"
	ScheduleCosine   = "cosine"
)

// Schedule maps a 0-based step to a learning rate.
type Schedule interface {
	LR(step int) float64
	Name() string
}

// ScheduleConfig configures a learning-rate schedule.
type ScheduleConfig struct {
	Kind   string  // constant, linear or cosine (default: constant)
	LR     float64 // Peak learning rate
	MinLR  float64 // Final learning rate for decaying schedules
	Steps  int     // Total steps for decaying schedules
	Warmup int     // Linear warmup steps from 0 to LR
}

// NewSchedule creates a schedule.
func NewSchedule(cfg ScheduleConfig) (Schedule, error) {
	if cfg.LR <= 0 || math.IsNaN(cfg.LR) || math.IsInf(cfg.LR, 0) {
		return nil, fmt.Errorf("learning rate must be positive and finite, got %g", cfg.LR)
	}
	if cfg.MinLR < 0 || cfg.MinLR > cfg.LR {
		return nil, fmt.Errorf("min learning rate must be in [0, %g], got %g", cfg.LR, cfg.MinLR)
	}
	if cfg.Warmup < 0 {
		return nil, fmt.Errorf("warmup must be non-negative, got %d", cfg.Warmup)
	}

	switch cfg.Kind {
	case "", ScheduleConstant:
		return &constantSchedule{lr: cfg.LR, warmup: cfg.Warmup}, nil
	case ScheduleLinear, ScheduleCosine:
		if cfg.Steps <= cfg.Warmup {
			return nil, fmt.Errorf("%s schedule needs steps > warmup, got %d <= %d", cfg.Kind, cfg.Steps, cfg.Warmup)
		}
		return &decaySchedule{
			kind:   cfg.Kind,
			lr:     cfg.LR,
			minLR:  cfg.MinLR,
			steps:  cfg.Steps,
			warmup: cfg.Warmup,
		}, nil
	default:
		return nil, fmt.Errorf("unknown learning rate schedule %q", cfg.Kind)
	}
}

func warmupLR(lr float64, step, warmup int) (float64, bool) {
	if step < warmup {
		return lr * float64(step+1) / float64(warmup), true
	}
	return 0, false
}

type constantSchedule struct {
	lr     float64
	warmup int
}

func (c *constantSchedule) LR(step int) float64 {
	if lr, ok := warmupLR(c.lr, step, c.warmup); ok {
		return lr
	}
	return c.lr
}

func (c *constantSchedule) Name() string { return ScheduleConstant }

// decaySchedule decays linearly or along a half cosine from lr to minLR.
type decaySchedule struct {
	kind   string
	lr     float64
	minLR  float64
	steps  int
	warmup int
}

func (d *decaySchedule) LR(step int) float64 {
	if lr, ok := warmupLR(d.lr, step, d.warmup); ok {
		return lr
	}
	span := d.steps - d.warmup
	t := step - d.warmup
	if t >= span {
		return d.minLR
	}
	frac := float64(t) / float64(span)
	if d.kind == ScheduleLinear {
		return d.lr + (d.minLR-d.lr)*frac
	}
	return d.minLR + 0.5*(d.lr-d.minLR)*(1+math.Cos(math.Pi*frac))
}

func (d *decaySchedule) Name() string { return d.kind }
