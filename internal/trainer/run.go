// Package trainer drives divergence-driven zeroth-order fine-tuning.
//
// A Run owns everything one training run needs: the perturbation engine,
// the estimator, the projector, the divergence monitor and the update
// rule. Nothing is global, so independent runs can train concurrently.
//
// Each step estimates a gradient from seeded loss differences, refreshes
// the projection when the monitor asks for it, reweights and clips the
// direction, and applies it by replaying the seeds.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/born-ml/dizo/internal/divergence"
	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/optim"
	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/perturb"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/zo"
)

// ErrDone is returned by Step once the step budget is exhausted.
var ErrDone = errors.New("trainer: step budget exhausted")

// Config configures a Run.
type Config struct {
	Steps      int                // Step budget (required)
	Seed       uint64             // Base seed of every step seed
	LR         float64            // Learning rate when Schedule is nil (default: 1e-3)
	Schedule   optim.Schedule     // Learning-rate schedule (default: constant LR)
	ClipRange  float64            // Direction magnitude limit; 0 disables clipping
	Clipper    projection.Clipper // Clip strategy (default: global)
	Estimator  zo.Config          // Directions, epsilon, restore verification
	SGD        optim.SGDConfig    // Momentum and weight decay
	Projection projection.Config  // Projection learning
	Divergence divergence.Config  // Refresh cycle and threshold
	Parallel   parallel.Config    // Element parallelism (default: parallel.DefaultConfig())
	Logger     zerolog.Logger     // Component logs (default: no-op)
}

// Run is the explicit context of one training run.
type Run struct {
	cfg       Config
	model     nn.Model
	src       nn.Source
	trainable []*nn.Parameter
	ts        []*tensor.Tensor

	engine    *perturb.Engine
	estimator *zo.Estimator
	projector *projection.Projector
	monitor   *divergence.Monitor
	applier   *optim.SGD
	schedule  optim.Schedule
	sink      Sink

	step  int
	phase atomic.Int32
	err   error // Fatal error; every later Step returns it
	log   zerolog.Logger
}

// New prepares a run. The trainable parameters of model are snapped onto
// the parameter lattice, and their current values become the projection
// anchors.
func New(model nn.Model, src nn.Source, cfg Config, sinks ...Sink) (*Run, error) {
	if cfg.Steps <= 0 {
		return nil, fmt.Errorf("step budget must be positive, got %d", cfg.Steps)
	}
	if cfg.Parallel == (parallel.Config{}) {
		cfg.Parallel = parallel.DefaultConfig()
	}
	if cfg.SGD.Parallel == (parallel.Config{}) {
		cfg.SGD.Parallel = cfg.Parallel
	}
	if cfg.Schedule == nil {
		if cfg.LR == 0 {
			cfg.LR = 1e-3
		}
		s, err := optim.NewSchedule(optim.ScheduleConfig{LR: cfg.LR})
		if err != nil {
			return nil, err
		}
		cfg.Schedule = s
	}
	if cfg.Clipper == nil {
		cfg.Clipper = projection.GlobalClip{}
	}
	if cfg.ClipRange < 0 {
		return nil, fmt.Errorf("clip range must be non-negative, got %g", cfg.ClipRange)
	}
	cfg.Estimator.Logger = cfg.Logger
	cfg.Projection.Logger = cfg.Logger

	params := model.Parameters()
	if len(params.Trainable()) == 0 {
		return nil, errors.New("model has no trainable parameters")
	}
	if err := params.Snap(); err != nil {
		return nil, pkgerrors.WithStack(err)
	}

	engine := perturb.New(perturb.Config{Parallel: cfg.Parallel})
	estimator, err := zo.NewEstimator(engine, cfg.Estimator)
	if err != nil {
		return nil, err
	}
	projector, err := projection.New(params, cfg.Projection)
	if err != nil {
		return nil, err
	}
	monitor, err := divergence.NewMonitor(cfg.Divergence)
	if err != nil {
		return nil, err
	}

	r := &Run{
		cfg:       cfg,
		model:     model,
		src:       src,
		trainable: params.Trainable(),
		ts:        params.Tensors(),
		engine:    engine,
		estimator: estimator,
		projector: projector,
		monitor:   monitor,
		applier:   optim.NewSGD(cfg.SGD),
		schedule:  cfg.Schedule,
		sink:      MultiSink(sinks),
		log:       cfg.Logger.With().Str("component", "trainer").Logger(),
	}
	return r, nil
}

// Phase returns the current phase. It is safe to call from any goroutine.
func (r *Run) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Run) setPhase(p Phase) {
	r.phase.Store(int32(p))
}

// StepCount returns the number of completed steps.
func (r *Run) StepCount() int {
	return r.step
}

// Config returns the effective configuration.
func (r *Run) Config() Config {
	return r.cfg
}

// Projector returns the projection state.
func (r *Run) Projector() *projection.Projector {
	return r.projector
}

// Monitor returns the divergence monitor.
func (r *Run) Monitor() *divergence.Monitor {
	return r.monitor
}

// Applier returns the update rule.
func (r *Run) Applier() *optim.SGD {
	return r.applier
}

// Train runs steps until the budget is exhausted and returns nil, or
// returns the first error. Cancellation is observed between steps and
// between directions; the parameters are never left perturbed.
func (r *Run) Train(ctx context.Context) error {
	r.log.Info().
		Int("steps", r.cfg.Steps).
		Int("directions", r.estimator.Directions()).
		Float64("epsilon", r.estimator.Epsilon()).
		Str("projection", string(r.projector.Mode())).
		Int("parameters", len(r.ts)).
		Msg("training started")

	start := time.Now()
	for r.step < r.cfg.Steps {
		if _, err := r.Step(ctx); err != nil {
			r.log.Error().Stack().Err(err).Int("step", r.step).Msg("training stopped")
			return err
		}
	}
	r.log.Info().
		Int("steps", r.step).
		Int("refreshes", r.projector.Refreshes()).
		Dur("took", time.Since(start)).
		Msg("training finished")
	return nil
}

// Step runs one training step and returns its record.
func (r *Run) Step(ctx context.Context) (*StepRecord, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.step >= r.cfg.Steps {
		return nil, ErrDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err := r.runStep(ctx)
	if err != nil {
		r.setPhase(PhaseIdle)
		if isFatal(err) {
			r.err = err
		}
		return nil, err
	}
	rec.Duration = time.Since(start)

	r.step++
	if r.step >= r.cfg.Steps {
		r.setPhase(PhaseDone)
	} else {
		r.setPhase(PhaseIdle)
	}

	if err := r.sink.RecordStep(ctx, rec); err != nil {
		return rec, fmt.Errorf("failed to record step %d: %w", rec.Step, err)
	}
	return rec, nil
}

func (r *Run) runStep(ctx context.Context) (*StepRecord, error) {
	batch, err := r.src.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to draw batch: %w", err)
	}
	seed := perturb.DeriveSeed(r.cfg.Seed, r.step+1)

	r.setPhase(PhaseEstimating)
	est, err := r.estimator.Estimate(ctx, r.ts, r.model, batch, seed)
	if err != nil {
		return nil, err
	}

	rec := &StepRecord{
		Step:      r.step,
		Seed:      seed,
		Loss:      est.Loss(),
		LossPlus:  est.LossPlus,
		LossMinus: est.LossMinus,
		Pairs:     est.Pairs,
		Epsilon:   est.Epsilon,
		Skipped:   est.Skipped,
	}

	if r.projector.Enabled() && r.monitor.ShouldRefresh(r.step) {
		r.setPhase(PhaseProjecting)
		res, err := r.projector.Refresh(ctx, r.model, r.src, perturb.DeriveSeed(seed, r.estimator.Directions()))
		if err != nil {
			return nil, fmt.Errorf("failed to refresh projection at step %d: %w", r.step, err)
		}
		r.monitor.MarkRefreshed(r.step)
		rec.Refresh = res
	}

	raw := zo.NewDirection(est, len(r.ts))
	rawNorms := raw.LayerNorms(r.ts, r.cfg.Parallel)
	dir := r.projector.Project(raw)
	if r.cfg.ClipRange > 0 {
		dir = r.cfg.Clipper.Clip(dir, rawNorms, r.cfg.ClipRange)
	}
	norms := rawNorms
	if !slices.Equal(dir.Coefficients, raw.Coefficients) {
		norms = dir.LayerNorms(r.ts, r.cfg.Parallel)
	}
	// Per-layer magnitudes only; a rotation within a layer from coefficient
	// clipping does not register as divergence.
	projected := make([]float64, len(norms))
	for l, n := range norms {
		projected[l] = dir.Weights[l] * n
	}
	rec.Divergence = r.monitor.Update(rawNorms, projected)
	rec.Smoothed = r.monitor.Value()
	rec.Coefficients = dir.Coefficients
	rec.Weights = dir.Weights

	r.setPhase(PhaseApplying)
	rec.LR = r.schedule.LR(r.step)
	rec.UpdateNorm, err = r.applier.Step(r.trainable, dir, rec.LR)
	if err != nil {
		return nil, pkgerrors.WithStack(err)
	}
	return rec, nil
}

// isFatal reports whether err leaves the run unusable.
func isFatal(err error) bool {
	return errors.Is(err, zo.ErrParameterDrift) ||
		errors.Is(err, tensor.ErrLatticeOverflow) ||
		errors.Is(err, tensor.ErrNonFinite) ||
		errors.Is(err, tensor.ErrShapeMismatch)
}
