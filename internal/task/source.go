package task

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/dizo/internal/nn"
)

// Fixed returns the same batch on every call.
type Fixed struct {
	Batch nn.Batch
}

// Next implements Source.
func (f Fixed) Next(ctx context.Context) (nn.Batch, error) {
	return f.Batch, ctx.Err()
}

// Minibatches cycles through a regression dataset in shuffled order,
// reshuffling every epoch. The order depends only on the seed.
type Minibatches struct {
	data  *nn.RegressionBatch
	size  int
	rng   *rand.Rand
	order []int
	pos   int
	epoch int
}

// NewMinibatches creates a minibatch source over data.
func NewMinibatches(data *nn.RegressionBatch, size int, seed uint64) (*Minibatches, error) {
	if len(data.X) == 0 || len(data.X) != len(data.Y) {
		return nil, fmt.Errorf("invalid dataset: %d inputs, %d targets", len(data.X), len(data.Y))
	}
	if size < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	m := &Minibatches{
		data:  data,
		size:  min(size, len(data.X)),
		rng:   rand.New(rand.NewPCG(seed, 0xba7c)),
		order: make([]int, len(data.X)),
	}
	for i := range m.order {
		m.order[i] = i
	}
	m.shuffle()
	return m, nil
}

func (m *Minibatches) shuffle() {
	m.rng.Shuffle(len(m.order), func(i, j int) { m.order[i], m.order[j] = m.order[j], m.order[i] })
	m.pos = 0
}

// Next implements Source.
func (m *Minibatches) Next(ctx context.Context) (nn.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.pos+m.size > len(m.order) {
		m.shuffle()
		m.epoch++
	}
	b := &nn.RegressionBatch{
		X: make([][]float64, m.size),
		Y: make([][]float64, m.size),
	}
	for i, idx := range m.order[m.pos : m.pos+m.size] {
		b.X[i], b.Y[i] = m.data.X[idx], m.data.Y[idx]
	}
	m.pos += m.size
	return b, nil
}

// Epoch returns the number of completed passes over the data.
func (m *Minibatches) Epoch() int {
	return m.epoch
}

// TokenWindows draws windows of consecutive tokens at seeded offsets.
type TokenWindows struct {
	stream []int
	width  int
	rng    *rand.Rand
}

// NewTokenWindows creates a source of windows holding size predictions
// (size+1 tokens) each.
func NewTokenWindows(stream []int, size int, seed uint64) (*TokenWindows, error) {
	if len(stream) < 2 {
		return nil, fmt.Errorf("token stream needs at least 2 tokens, got %d", len(stream))
	}
	if size < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	return &TokenWindows{
		stream: stream,
		width:  min(size+1, len(stream)),
		rng:    rand.New(rand.NewPCG(seed, 0x70c5)),
	}, nil
}

// Next implements Source.
func (w *TokenWindows) Next(ctx context.Context) (nn.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := w.rng.IntN(len(w.stream) - w.width + 1)
	return &nn.TokenBatch{Tokens: w.stream[start : start+w.width]}, nil
}
