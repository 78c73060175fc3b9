// Package optim implements the update rules of the zeroth-order trainer.
//
// This package provides:
//   - Applier interface: base interface for zeroth-order update rules
//   - SGD: seed-replaying gradient descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation over a flat vector (projection learning)
//   - Schedule: learning-rate schedules (constant, linear, cosine)
//
// The SGD applier never receives a gradient tensor. It receives a
// zo.Direction, the (seed, coefficient) pairs of an estimate plus
// per-layer weights, and regenerates every direction element on the fly.
//
// Example usage:
//
//	sgd := optim.NewSGD(optim.SGDConfig{Momentum: 0.9})
//	sched, _ := optim.NewSchedule(optim.ScheduleConfig{Kind: optim.ScheduleCosine, LR: 1e-3, Steps: 1000})
//
//	for step := range steps {
//	    est, _ := estimator.Estimate(ctx, ts, model, batch, seed)
//	    dir := projector.Project(zo.NewDirection(est, len(ts)))
//	    norm, err := sgd.Step(params.Trainable(), dir, sched.LR(step))
//	}
package optim

import (
	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/zo"
)

// Applier is the base interface for zeroth-order update rules.
type Applier interface {
	// Step moves params along -lr * dir and returns the L2 norm of the
	// applied change. params must be the trainable parameters in the
	// order the direction was estimated with.
	Step(params []*nn.Parameter, dir zo.Direction, lr float64) (float64, error)
}
