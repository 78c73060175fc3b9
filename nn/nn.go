// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/tensor"
)

// Parameter is a named tensor, trainable or frozen.
type Parameter = nn.Parameter

// ParameterSet is an ordered set of uniquely named parameters.
type ParameterSet = nn.ParameterSet

// Batch is an opaque input batch.
type Batch = nn.Batch

// Evaluator computes the loss of a batch.
type Evaluator = nn.Evaluator

// GradEvaluator also computes gradients of the trainable tensors.
type GradEvaluator = nn.GradEvaluator

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc = nn.EvaluatorFunc

// Model is an evaluator with parameters.
type Model = nn.Model

// Source supplies one batch per training step.
type Source = nn.Source

// NewParameter creates a trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return nn.NewParameter(name, t)
}

// NewFrozen creates a parameter that is never updated.
func NewFrozen(name string, t *tensor.Tensor) *Parameter {
	return nn.NewFrozen(name, t)
}

// NewParameterSet creates a set; names must be unique.
func NewParameterSet(params ...*Parameter) (*ParameterSet, error) {
	return nn.NewParameterSet(params...)
}

// Quadratic is the model L(x) = ||x - target||^2.
type Quadratic = nn.Quadratic

// NewQuadratic creates a quadratic starting at init and minimised at target.
func NewQuadratic(init, target []float64) (*Quadratic, error) {
	return nn.NewQuadratic(init, target)
}

// Linear is a dense layer trained with mean squared error.
type Linear = nn.Linear

// LinearConfig configures a Linear model. Rank > 0 selects adapter mode.
type LinearConfig = nn.LinearConfig

// RegressionBatch holds inputs and targets for Linear.
type RegressionBatch = nn.RegressionBatch

// NewLinear creates a Linear model initialised from rng.
func NewLinear(cfg LinearConfig, rng *rand.Rand) (*Linear, error) {
	return nn.NewLinear(cfg, rng)
}

// BigramLM is a next-token language model.
type BigramLM = nn.BigramLM

// BigramConfig configures a BigramLM.
type BigramConfig = nn.BigramConfig

// TokenBatch is a contiguous token sequence.
type TokenBatch = nn.TokenBatch

// NewBigramLM creates a BigramLM initialised from rng.
func NewBigramLM(cfg BigramConfig, rng *rand.Rand) (*BigramLM, error) {
	return nn.NewBigramLM(cfg, rng)
}
