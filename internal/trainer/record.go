package trainer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/zo"
)

// StepRecord describes one completed step. Together with the initial
// parameters, the records of a run are enough to rebuild its final
// parameters exactly: Pairs, Coefficients, Weights, Epsilon and LR drive
// the update, and Refresh carries the committed projection factors.
type StepRecord struct {
	Step         int
	Seed         uint64
	Loss         float64   // Mean loss at +epsilon
	LossPlus     []float64 // Per direction
	LossMinus    []float64 // Per direction
	Pairs        []zo.Pair // Raw estimate
	Coefficients []float64 // Coefficients after clipping
	Weights      []float64 // Per-layer update weights after projection and clipping
	Epsilon      float64
	LR           float64
	UpdateNorm   float64
	Divergence   float64 // Raw divergence of this step
	Smoothed     float64 // Smoothed divergence after this step
	Skipped      int     // Directions with a non-finite loss
	Refresh      *projection.Result
	Duration     time.Duration
}

// Refreshed reports whether the projection was refreshed during the step.
func (r *StepRecord) Refreshed() bool {
	return r.Refresh != nil
}

// Sink consumes step records. A sink error aborts training.
type Sink interface {
	RecordStep(ctx context.Context, rec *StepRecord) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec *StepRecord) error

// RecordStep calls f(ctx, rec).
func (f SinkFunc) RecordStep(ctx context.Context, rec *StepRecord) error {
	return f(ctx, rec)
}

// MultiSink forwards records to every sink in order and joins their errors.
type MultiSink []Sink

// RecordStep implements Sink.
func (m MultiSink) RecordStep(ctx context.Context, rec *StepRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordStep(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes step records to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
	Every  int // Log every Every steps; refresh steps are always logged (default: 1)
}

// RecordStep implements Sink.
func (s LogSink) RecordStep(_ context.Context, rec *StepRecord) error {
	every := max(s.Every, 1)
	if rec.Refresh != nil {
		s.Logger.Info().
			Int("step", rec.Step).
			Strs("layers", rec.Refresh.Layers).
			Floats64("gammas", rec.Refresh.Gammas).
			Floats64("weights", rec.Refresh.Weights).
			Msg("projection refreshed")
	}
	if (rec.Step+1)%every != 0 {
		return nil
	}
	s.Logger.Info().
		Int("step", rec.Step).
		Float64("loss", rec.Loss).
		Float64("lr", rec.LR).
		Float64("update_norm", rec.UpdateNorm).
		Float64("divergence", rec.Divergence).
		Float64("divergence_ema", rec.Smoothed).
		Int("skipped", rec.Skipped).
		Dur("took", rec.Duration).
		Msg("step")
	return nil
}
