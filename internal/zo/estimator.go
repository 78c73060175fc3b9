// Package zo estimates gradients from loss differences under seeded
// parameter perturbations (simultaneous perturbation / MeZO style).
//
// For each direction the estimator moves the trainable tensors to
// θ + εu, evaluates the loss, moves to θ - εu, evaluates again, and
// returns to θ. The projected-gradient coefficient of the direction is
// (L+ - L-) / 2ε. Only the (seed, coefficient) pairs are kept.
package zo

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/perturb"
	"github.com/born-ml/dizo/internal/tensor"
)

// Config configures an Estimator.
type Config struct {
	Directions    int            // Directions per step (default: 1)
	Epsilon       float64        // Perturbation magnitude (default: 1e-3)
	VerifyRestore bool           // Fingerprint parameters around every estimate
	Logger        zerolog.Logger // Warnings for skipped directions (default: no-op)
}

// Estimator drives perturb/evaluate/restore cycles.
type Estimator struct {
	engine *perturb.Engine
	dirs   int
	eps    float64
	verify bool
	log    zerolog.Logger
}

// NewEstimator creates an Estimator.
//
// A zero Logger (the zerolog.Logger zero value) discards output.
func NewEstimator(engine *perturb.Engine, cfg Config) (*Estimator, error) {
	if cfg.Directions == 0 {
		cfg.Directions = 1
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-3
	}
	if cfg.Directions < 0 {
		return nil, errors.Errorf("directions must be positive, got %d", cfg.Directions)
	}
	if err := perturb.ValidateEpsilon(cfg.Epsilon); err != nil {
		return nil, err
	}
	return &Estimator{
		engine: engine,
		dirs:   cfg.Directions,
		eps:    cfg.Epsilon,
		verify: cfg.VerifyRestore,
		log:    cfg.Logger.With().Str("component", "zo").Logger(),
	}, nil
}

// Epsilon returns the perturbation magnitude.
func (e *Estimator) Epsilon() float64 {
	return e.eps
}

// Directions returns the number of directions per estimate.
func (e *Estimator) Directions() int {
	return e.dirs
}

// Estimate samples Directions() seeded directions derived from seed and
// returns their coefficients. Every direction is evaluated on the same batch.
//
// On return, ts holds exactly the values it held on entry, whether the
// call succeeds, fails, or the evaluator panics. Non-finite losses zero the
// affected coefficient; an evaluator error or context cancellation aborts
// the estimate.
func (e *Estimator) Estimate(
	ctx context.Context,
	ts []*tensor.Tensor,
	eval nn.Evaluator,
	batch nn.Batch,
	seed uint64,
) (*Estimate, error) {
	var before [32]byte
	if e.verify {
		before = tensor.Fingerprint(ts)
	}

	est := &Estimate{
		Pairs:     make([]Pair, 0, e.dirs),
		Epsilon:   e.eps,
		LossPlus:  make([]float64, 0, e.dirs),
		LossMinus: make([]float64, 0, e.dirs),
	}
	for k := 0; k < e.dirs; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := perturb.DeriveSeed(seed, k)
		lp, lm, err := e.sample(ctx, ts, eval, batch, s)
		if err != nil {
			return nil, err
		}

		c := (lp - lm) / (2 * e.eps)
		if !finite(lp) || !finite(lm) || !finite(c) {
			e.log.Warn().
				Uint64("seed", s).
				Int("direction", k).
				Float64("loss_plus", lp).
				Float64("loss_minus", lm).
				Msg("non-finite loss, skipping direction")
			c = 0
			est.Skipped++
		}
		est.Pairs = append(est.Pairs, Pair{Seed: s, Coefficient: c})
		est.LossPlus = append(est.LossPlus, lp)
		est.LossMinus = append(est.LossMinus, lm)
	}

	if e.verify {
		if after := tensor.Fingerprint(ts); after != before {
			return nil, errors.WithStack(&DriftError{Seed: seed, Before: before, After: after})
		}
	}
	return est, nil
}

// sample evaluates one direction with the +1, -2, +1 sequence.
func (e *Estimator) sample(
	ctx context.Context,
	ts []*tensor.Tensor,
	eval nn.Evaluator,
	batch nn.Batch,
	seed uint64,
) (lossPlus, lossMinus float64, err error) {
	offset := 0
	move := func(scale int) {
		e.engine.Perturb(ts, perturb.Spec{Seed: seed, Epsilon: e.eps, Scale: scale})
		offset += scale
	}
	defer func() {
		if offset != 0 {
			e.engine.Perturb(ts, perturb.Spec{Seed: seed, Epsilon: e.eps, Scale: -offset})
		}
	}()

	move(1)
	lossPlus, err = eval.Loss(ctx, batch)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to evaluate loss at +epsilon")
	}
	move(-2)
	lossMinus, err = eval.Loss(ctx, batch)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to evaluate loss at -epsilon")
	}
	move(1)
	return lossPlus, lossMinus, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
