package nn

import (
	"context"
	"fmt"

	"github.com/born-ml/dizo/internal/tensor"
)

// Quadratic is the toy model L(x) = ||x - target||^2.
//
// It ignores the batch and exposes exact gradients, which makes it the
// reference objective for convergence and estimator tests.
type Quadratic struct {
	x      *Parameter
	target []float64
	params *ParameterSet
}

// NewQuadratic creates a quadratic model starting at init and minimised at target.
func NewQuadratic(init, target []float64) (*Quadratic, error) {
	if len(init) != len(target) {
		return nil, fmt.Errorf("%w: init has %d values, target %d", tensor.ErrShapeMismatch, len(init), len(target))
	}
	x, err := tensor.FromSlice(init, tensor.Shape{len(init)})
	if err != nil {
		return nil, err
	}
	q := &Quadratic{
		x:      NewParameter("x", x),
		target: append([]float64(nil), target...),
	}
	q.params, err = NewParameterSet(q.x)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Parameters returns the single-tensor parameter set.
func (q *Quadratic) Parameters() *ParameterSet {
	return q.params
}

// Target returns the minimiser.
func (q *Quadratic) Target() []float64 {
	return q.target
}

// Loss returns ||x - target||^2.
func (q *Quadratic) Loss(_ context.Context, _ Batch) (float64, error) {
	var sum float64
	for i, v := range q.x.tensor.Data() {
		d := v - q.target[i]
		sum += d * d
	}
	return sum, nil
}

// LossGrad returns the loss and writes 2(x - target) into grads[0].
func (q *Quadratic) LossGrad(ctx context.Context, batch Batch, grads []*tensor.Tensor) (float64, error) {
	if len(grads) != 1 || !grads[0].Shape().Equal(q.x.tensor.Shape()) {
		return 0, fmt.Errorf("%w: quadratic expects one gradient of shape %v", tensor.ErrShapeMismatch, q.x.tensor.Shape())
	}
	g := grads[0].Data()
	for i, v := range q.x.tensor.Data() {
		g[i] = 2 * (v - q.target[i])
	}
	return q.Loss(ctx, batch)
}
