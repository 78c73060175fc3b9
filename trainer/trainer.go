// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package trainer

import (
	"context"

	"github.com/born-ml/dizo/internal/divergence"
	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/trainer"
	"github.com/born-ml/dizo/internal/zo"
)

// Run is the explicit context of one training run.
type Run = trainer.Run

// Config configures a Run.
type Config = trainer.Config

// Phase is the position of a Run in its step cycle.
type Phase = trainer.Phase

// Run phases.
const (
	PhaseIdle       = trainer.PhaseIdle
	PhaseEstimating = trainer.PhaseEstimating
	PhaseProjecting = trainer.PhaseProjecting
	PhaseApplying   = trainer.PhaseApplying
	PhaseDone       = trainer.PhaseDone
)

// Errors.
var (
	ErrDone           = trainer.ErrDone
	ErrParameterDrift = zo.ErrParameterDrift
)

// New prepares a run over the trainable parameters of model.
func New(model nn.Model, src nn.Source, cfg Config, sinks ...Sink) (*Run, error) {
	return trainer.New(model, src, cfg, sinks...)
}

// Replay rebuilds the parameters a run reached from its initial
// parameters and its step records.
func Replay(ctx context.Context, params *nn.ParameterSet, records []*StepRecord, cfg Config) error {
	return trainer.Replay(ctx, params, records, cfg)
}

// Step records

// StepRecord describes one completed step.
type StepRecord = trainer.StepRecord

// Sink consumes step records.
type Sink = trainer.Sink

// SinkFunc adapts a function to the Sink interface.
type SinkFunc = trainer.SinkFunc

// MultiSink forwards records to several sinks.
type MultiSink = trainer.MultiSink

// LogSink writes step records to a zerolog logger.
type LogSink = trainer.LogSink

// Estimation

// EstimatorConfig configures the gradient estimator.
type EstimatorConfig = zo.Config

// Projection

// ProjectionConfig configures projection learning.
type ProjectionConfig = projection.Config

// ProjectionResult describes one projection refresh.
type ProjectionResult = projection.Result

// ProjectionMode selects how the scaling factors are learned.
type ProjectionMode = projection.Mode

// Projection modes.
const (
	ProjectionNone = projection.ModeNone
	ProjectionZO   = projection.ModeZO
	ProjectionFO   = projection.ModeFO
)

// Norm modes.
const (
	NormL2   = projection.NormL2
	NormMARS = projection.NormMARS
)

// Clipper limits the magnitude of an update direction.
type Clipper = projection.Clipper

// Clip strategies.
type (
	GlobalClip      = projection.GlobalClip
	LayerClip       = projection.LayerClip
	CoefficientClip = projection.CoefficientClip
)

// Divergence

// DivergenceConfig configures the refresh trigger.
type DivergenceConfig = divergence.Config

// DivergenceStrategy defines the divergence between raw and projected updates.
type DivergenceStrategy = divergence.Strategy

// Divergence strategies.
type (
	Cosine    = divergence.Cosine
	NormRatio = divergence.NormRatio
)
