package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/dizo/internal/tensor"
)

// TokenBatch is a contiguous token sequence; every adjacent pair is one
// next-token prediction.
type TokenBatch struct {
	Tokens []int
}

// BigramConfig configures a BigramLM.
type BigramConfig struct {
	Vocab int // Vocabulary size
	Dim   int // Embedding width
}

// BigramLM is a tiny next-token language model:
//
//	logits(a) = E[a] · U + c
//
// trained with mean cross-entropy. It has three trainable tensors
// (embedding, unembedding, output bias) so the layer-wise projection has
// distinct layers to work with.
type BigramLM struct {
	cfg    BigramConfig
	embed  *Parameter // [Vocab, Dim]
	unemb  *Parameter // [Dim, Vocab]
	bias   *Parameter // [Vocab]
	params *ParameterSet

	logits []float64
}

// NewBigramLM creates a BigramLM initialised from rng.
func NewBigramLM(cfg BigramConfig, rng *rand.Rand) (*BigramLM, error) {
	if cfg.Vocab < 2 || cfg.Dim < 1 {
		return nil, fmt.Errorf("invalid bigram config: vocab=%d dim=%d", cfg.Vocab, cfg.Dim)
	}
	std := 1 / math.Sqrt(float64(cfg.Dim))
	e := tensor.Zeros(tensor.Shape{cfg.Vocab, cfg.Dim})
	for i := range e.Data() {
		e.Data()[i] = rng.NormFloat64() * std
	}
	u := tensor.Zeros(tensor.Shape{cfg.Dim, cfg.Vocab})
	for i := range u.Data() {
		u.Data()[i] = rng.NormFloat64() * std
	}

	m := &BigramLM{
		cfg:    cfg,
		embed:  NewParameter("embed.weight", e),
		unemb:  NewParameter("lm_head.weight", u),
		bias:   NewParameter("lm_head.bias", tensor.Zeros(tensor.Shape{cfg.Vocab})),
		logits: make([]float64, cfg.Vocab),
	}
	ps, err := NewParameterSet(m.embed, m.unemb, m.bias)
	if err != nil {
		return nil, err
	}
	m.params = ps
	return m, nil
}

// Parameters returns the parameter set.
func (m *BigramLM) Parameters() *ParameterSet {
	return m.params
}

// Loss returns the mean next-token cross-entropy over the batch.
func (m *BigramLM) Loss(_ context.Context, batch Batch) (float64, error) {
	tb, err := m.batch(batch)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i+1 < len(tb.Tokens); i++ {
		sum += m.nll(tb.Tokens[i], tb.Tokens[i+1])
	}
	return sum / float64(len(tb.Tokens)-1), nil
}

// LossGrad returns the loss and writes gradients for embed, lm_head and bias.
func (m *BigramLM) LossGrad(_ context.Context, batch Batch, grads []*tensor.Tensor) (float64, error) {
	tb, err := m.batch(batch)
	if err != nil {
		return 0, err
	}
	if len(grads) != 3 {
		return 0, fmt.Errorf("%w: bigram expects 3 gradients, got %d", tensor.ErrShapeMismatch, len(grads))
	}
	for i, p := range m.params.Trainable() {
		if !grads[i].Shape().Equal(p.tensor.Shape()) {
			return 0, fmt.Errorf("%w: gradient %d", tensor.ErrShapeMismatch, i)
		}
		grads[i].Fill(0)
	}
	dE, dU, dC := grads[0].Data(), grads[1].Data(), grads[2].Data()
	e, u := m.embed.tensor.Data(), m.unemb.tensor.Data()
	v, d := m.cfg.Vocab, m.cfg.Dim

	pairs := len(tb.Tokens) - 1
	inv := 1 / float64(pairs)
	var sum float64
	for i := 0; i < pairs; i++ {
		a, b := tb.Tokens[i], tb.Tokens[i+1]
		sum += m.nll(a, b) // leaves softmax(logits) in m.logits
		m.logits[b] -= 1
		row := e[a*d : (a+1)*d]
		for k := 0; k < d; k++ {
			var acc float64
			for j := 0; j < v; j++ {
				g := m.logits[j] * inv
				dU[k*v+j] += row[k] * g
				acc += u[k*v+j] * g
			}
			dE[a*d+k] += acc
		}
		for j := 0; j < v; j++ {
			dC[j] += m.logits[j] * inv
		}
	}
	return sum * inv, nil
}

// nll returns -log p(b | a) and leaves the softmax distribution in m.logits.
func (m *BigramLM) nll(a, b int) float64 {
	e, u, c := m.embed.tensor.Data(), m.unemb.tensor.Data(), m.bias.tensor.Data()
	v, d := m.cfg.Vocab, m.cfg.Dim
	row := e[a*d : (a+1)*d]
	maxLogit := math.Inf(-1)
	for j := 0; j < v; j++ {
		acc := c[j]
		for k := 0; k < d; k++ {
			acc += row[k] * u[k*v+j]
		}
		m.logits[j] = acc
		if acc > maxLogit {
			maxLogit = acc
		}
	}
	var z float64
	for j := 0; j < v; j++ {
		m.logits[j] = math.Exp(m.logits[j] - maxLogit)
		z += m.logits[j]
	}
	for j := 0; j < v; j++ {
		m.logits[j] /= z
	}
	return -math.Log(m.logits[b])
}

func (m *BigramLM) batch(batch Batch) (*TokenBatch, error) {
	tb, ok := batch.(*TokenBatch)
	if !ok {
		return nil, fmt.Errorf("bigram model expects *nn.TokenBatch, got %T", batch)
	}
	if len(tb.Tokens) < 2 {
		return nil, fmt.Errorf("token batch needs at least 2 tokens, got %d", len(tb.Tokens))
	}
	for _, t := range tb.Tokens {
		if t < 0 || t >= m.cfg.Vocab {
			return nil, fmt.Errorf("token %d outside vocabulary of %d", t, m.cfg.Vocab)
		}
	}
	return tb, nil
}
