// Package nn defines the model collaborator seen by the zeroth-order
// trainer: named parameters, the parameter set, loss evaluation
// interfaces, and a few small reference models.
//
// The trainer never builds or owns a model. It receives a Model, mutates
// the trainable tensors of its ParameterSet in place, and calls Loss to
// score the current values.
package nn

import (
	"context"

	"github.com/born-ml/dizo/internal/tensor"
)

// Batch is an opaque unit of training data. Models type-assert it to
// their own batch type.
type Batch any

// Evaluator computes a scalar loss for a batch at the current parameter values.
//
// Loss must be a pure read of the parameters: the trainer relies on two
// calls with the same batch and the same parameter values returning the
// same number.
type Evaluator interface {
	Loss(ctx context.Context, batch Batch) (float64, error)
}

// GradEvaluator is an Evaluator that can also produce exact gradients.
//
// LossGrad writes dLoss/dParam for every trainable tensor into grads,
// which the caller allocates with the shapes of ParameterSet.Tensors().
// Implementations must not retain grads after returning.
type GradEvaluator interface {
	Evaluator
	LossGrad(ctx context.Context, batch Batch, grads []*tensor.Tensor) (float64, error)
}

// Source yields training batches. The trainer draws one batch per step
// and holds it fixed across both halves of every finite difference.
type Source interface {
	Next(ctx context.Context) (Batch, error)
}

// Model is the collaborator the trainer fine-tunes.
type Model interface {
	Evaluator
	Parameters() *ParameterSet
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, batch Batch) (float64, error)

// Loss calls f(ctx, batch).
func (f EvaluatorFunc) Loss(ctx context.Context, batch Batch) (float64, error) {
	return f(ctx, batch)
}
