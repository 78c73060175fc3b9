package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/dizo/internal/tensor"
)

// RegressionBatch holds inputs and targets for Linear.
type RegressionBatch struct {
	X [][]float64 // [batch][in]
	Y [][]float64 // [batch][out]
}

// LinearConfig configures a Linear regression model.
type LinearConfig struct {
	In, Out int
	// Rank > 0 switches to low-rank adapter mode: the dense weight and bias
	// are frozen and only the adapter factors A (Rank x In) and
	// B (Out x Rank) are trainable. The effective weight is
	// W + (Alpha/Rank) * B A.
	Rank  int
	Alpha float64 // Adapter scaling numerator (default: Rank)
}

// Linear is a single dense layer y = W x + b trained with mean squared error.
//
// In adapter mode it follows the usual low-rank adapter layout: A starts
// random, B starts at zero, so the adapted model initially equals the
// base model.
type Linear struct {
	cfg    LinearConfig
	weight *Parameter
	bias   *Parameter
	loraA  *Parameter
	loraB  *Parameter
	params *ParameterSet

	effective []float64 // scratch: effective weight in adapter mode
}

// NewLinear creates a Linear model with weights drawn from rng.
func NewLinear(cfg LinearConfig, rng *rand.Rand) (*Linear, error) {
	if cfg.In <= 0 || cfg.Out <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions %dx%d", cfg.Out, cfg.In)
	}
	if cfg.Rank < 0 {
		return nil, fmt.Errorf("invalid adapter rank %d", cfg.Rank)
	}
	if cfg.Rank > 0 && cfg.Alpha == 0 {
		cfg.Alpha = float64(cfg.Rank)
	}

	bound := 1 / math.Sqrt(float64(cfg.In))
	w := tensor.Zeros(tensor.Shape{cfg.Out, cfg.In})
	for i := range w.Data() {
		w.Data()[i] = (2*rng.Float64() - 1) * bound
	}
	b := tensor.Zeros(tensor.Shape{cfg.Out})

	l := &Linear{cfg: cfg}
	if cfg.Rank == 0 {
		l.weight = NewParameter("linear.weight", w)
		l.bias = NewParameter("linear.bias", b)
		ps, err := NewParameterSet(l.weight, l.bias)
		if err != nil {
			return nil, err
		}
		l.params = ps
		return l, nil
	}

	a := tensor.Zeros(tensor.Shape{cfg.Rank, cfg.In})
	for i := range a.Data() {
		a.Data()[i] = (2*rng.Float64() - 1) * bound
	}
	l.weight = NewFrozen("linear.weight", w)
	l.bias = NewFrozen("linear.bias", b)
	l.loraA = NewParameter("linear.lora_A", a)
	l.loraB = NewParameter("linear.lora_B", tensor.Zeros(tensor.Shape{cfg.Out, cfg.Rank}))
	l.effective = make([]float64, cfg.Out*cfg.In)
	ps, err := NewParameterSet(l.weight, l.bias, l.loraA, l.loraB)
	if err != nil {
		return nil, err
	}
	l.params = ps
	return l, nil
}

// Parameters returns the parameter set.
func (l *Linear) Parameters() *ParameterSet {
	return l.params
}

// Adapter reports whether the model runs in low-rank adapter mode.
func (l *Linear) Adapter() bool {
	return l.cfg.Rank > 0
}

// Weight returns the dense weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// Loss returns the mean squared error over the batch.
func (l *Linear) Loss(_ context.Context, batch Batch) (float64, error) {
	rb, err := l.batch(batch)
	if err != nil {
		return 0, err
	}
	w := l.weights()
	var sum float64
	pred := make([]float64, l.cfg.Out)
	for n := range rb.X {
		l.forward(w, rb.X[n], pred)
		for j, p := range pred {
			d := p - rb.Y[n][j]
			sum += d * d
		}
	}
	return sum / float64(len(rb.X)*l.cfg.Out), nil
}

// LossGrad returns the loss and writes gradients of the trainable tensors into grads.
func (l *Linear) LossGrad(_ context.Context, batch Batch, grads []*tensor.Tensor) (float64, error) {
	rb, err := l.batch(batch)
	if err != nil {
		return 0, err
	}
	trainable := l.params.Trainable()
	if len(grads) != len(trainable) {
		return 0, fmt.Errorf("%w: %d gradients for %d tensors", tensor.ErrShapeMismatch, len(grads), len(trainable))
	}
	for i, p := range trainable {
		if !grads[i].Shape().Equal(p.tensor.Shape()) {
			return 0, fmt.Errorf("%w: gradient %d", tensor.ErrShapeMismatch, i)
		}
		grads[i].Fill(0)
	}

	in, out := l.cfg.In, l.cfg.Out
	w := l.weights()
	// dW accumulates dLoss/dWeff; in dense mode it is the weight gradient itself.
	var dW, dB []float64
	if l.Adapter() {
		dW = make([]float64, out*in)
	} else {
		dW = grads[0].Data()
		dB = grads[1].Data()
	}

	scale := 2 / float64(len(rb.X)*out)
	pred := make([]float64, out)
	var sum float64
	for n := range rb.X {
		x := rb.X[n]
		l.forward(w, x, pred)
		for j, p := range pred {
			d := p - rb.Y[n][j]
			sum += d * d
			g := scale * d
			row := dW[j*in : (j+1)*in]
			for k, xv := range x {
				row[k] += g * xv
			}
			if dB != nil {
				dB[j] += g
			}
		}
	}

	if l.Adapter() {
		l.adapterGrads(dW, grads[0].Data(), grads[1].Data())
	}
	return sum / float64(len(rb.X)*out), nil
}

// adapterGrads maps dLoss/dWeff onto the adapter factors:
// dA = s * B^T dW, dB = s * dW A^T.
func (l *Linear) adapterGrads(dW, dA, dB []float64) {
	in, out, r := l.cfg.In, l.cfg.Out, l.cfg.Rank
	s := l.cfg.Alpha / float64(r)
	a := l.loraA.tensor.Data()
	b := l.loraB.tensor.Data()
	for i := 0; i < r; i++ {
		for k := 0; k < in; k++ {
			var acc float64
			for j := 0; j < out; j++ {
				acc += b[j*r+i] * dW[j*in+k]
			}
			dA[i*in+k] = s * acc
		}
	}
	for j := 0; j < out; j++ {
		for i := 0; i < r; i++ {
			var acc float64
			for k := 0; k < in; k++ {
				acc += dW[j*in+k] * a[i*in+k]
			}
			dB[j*r+i] = s * acc
		}
	}
}

// weights returns the effective dense weight.
func (l *Linear) weights() []float64 {
	if !l.Adapter() {
		return l.weight.tensor.Data()
	}
	in, out, r := l.cfg.In, l.cfg.Out, l.cfg.Rank
	s := l.cfg.Alpha / float64(r)
	base := l.weight.tensor.Data()
	a := l.loraA.tensor.Data()
	b := l.loraB.tensor.Data()
	for j := 0; j < out; j++ {
		for k := 0; k < in; k++ {
			var acc float64
			for i := 0; i < r; i++ {
				acc += b[j*r+i] * a[i*in+k]
			}
			l.effective[j*in+k] = base[j*in+k] + s*acc
		}
	}
	return l.effective
}

func (l *Linear) forward(w, x, out []float64) {
	in := l.cfg.In
	bias := l.bias.tensor.Data()
	for j := range out {
		acc := bias[j]
		row := w[j*in : (j+1)*in]
		for k, xv := range x {
			acc += row[k] * xv
		}
		out[j] = acc
	}
}

func (l *Linear) batch(batch Batch) (*RegressionBatch, error) {
	rb, ok := batch.(*RegressionBatch)
	if !ok {
		return nil, fmt.Errorf("linear model expects *nn.RegressionBatch, got %T", batch)
	}
	if len(rb.X) == 0 || len(rb.X) != len(rb.Y) {
		return nil, fmt.Errorf("invalid regression batch: %d inputs, %d targets", len(rb.X), len(rb.Y))
	}
	for n := range rb.X {
		if len(rb.X[n]) != l.cfg.In || len(rb.Y[n]) != l.cfg.Out {
			return nil, fmt.Errorf("%w: sample %d", tensor.ErrShapeMismatch, n)
		}
	}
	return rb, nil
}
