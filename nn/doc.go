// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the parameter model and the reference models used
// for zeroth-order fine-tuning.
//
// # Overview
//
// This package contains:
//   - Parameter and ParameterSet: named tensors, trainable or frozen
//   - Model, Evaluator, GradEvaluator and Source: what a trainer consumes
//   - Quadratic: L(x) = ||x - target||^2
//   - Linear: a dense layer, optionally trained through a low-rank adapter
//   - BigramLM: a next-token language model
//
// A model only has to evaluate its loss. Exact gradients (GradEvaluator)
// are needed only by first-order projection learning.
//
// # Basic Usage
//
//	import "github.com/born-ml/dizo/nn"
//
//	q, err := nn.NewQuadratic([]float64{0, 0}, []float64{1, 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loss, _ := q.Loss(ctx, nil)
package nn
