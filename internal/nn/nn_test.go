package nn

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/dizo/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkGradients compares LossGrad against central differences.
func checkGradients(t *testing.T, m GradEvaluator, ps *ParameterSet, batch Batch, tol float64) {
	t.Helper()
	ctx := context.Background()

	grads := make([]*tensor.Tensor, 0, len(ps.Trainable()))
	for _, p := range ps.Trainable() {
		grads = append(grads, tensor.Zeros(p.Tensor().Shape()))
	}
	_, err := m.LossGrad(ctx, batch, grads)
	require.NoError(t, err)

	const h = 1e-6
	for pi, p := range ps.Trainable() {
		data := p.Tensor().Data()
		for i := range data {
			orig := data[i]
			data[i] = orig + h
			lp, err := m.Loss(ctx, batch)
			require.NoError(t, err)
			data[i] = orig - h
			lm, err := m.Loss(ctx, batch)
			require.NoError(t, err)
			data[i] = orig

			numeric := (lp - lm) / (2 * h)
			assert.InDelta(t, numeric, grads[pi].Data()[i], tol, "%s[%d]", p.Name(), i)
		}
	}
}

func regressionBatch(rng *rand.Rand, n, in, out int) *RegressionBatch {
	b := &RegressionBatch{X: make([][]float64, n), Y: make([][]float64, n)}
	for i := 0; i < n; i++ {
		b.X[i] = make([]float64, in)
		b.Y[i] = make([]float64, out)
		for k := range b.X[i] {
			b.X[i][k] = rng.NormFloat64()
		}
		for j := range b.Y[i] {
			b.Y[i][j] = rng.NormFloat64()
		}
	}
	return b
}

func TestParameter_NoDecayNames(t *testing.T) {
	tests := []struct {
		name    string
		noDecay bool
	}{
		{"linear.weight", false},
		{"linear.bias", true},
		{"decoder.layers.0.self_attn_layer_norm.weight", true},
		{"final_LayerNorm.weight", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParameter(tt.name, tensor.Zeros(tensor.Shape{1}))
			assert.Equal(t, tt.noDecay, p.NoDecay())
		})
	}
}

func TestParameterSet_TrainableOrderAndDuplicates(t *testing.T) {
	a := NewParameter("a", tensor.Zeros(tensor.Shape{2}))
	f := NewFrozen("frozen", tensor.Zeros(tensor.Shape{3}))
	b := NewParameter("b", tensor.Zeros(tensor.Shape{4}))

	ps, err := NewParameterSet(a, f, b)
	require.NoError(t, err)
	require.Len(t, ps.Trainable(), 2)
	assert.Equal(t, "a", ps.Trainable()[0].Name())
	assert.Equal(t, "b", ps.Trainable()[1].Name())
	assert.Equal(t, 6, ps.NumElements())
	assert.Len(t, ps.All(), 3)

	_, err = NewParameterSet(a, NewParameter("a", tensor.Zeros(tensor.Shape{1})))
	require.Error(t, err)
}

func TestParameterSet_LoadRequiresEveryName(t *testing.T) {
	q, err := NewQuadratic([]float64{1, 2}, []float64{0, 0})
	require.NoError(t, err)

	src, err := tensor.FromSlice([]float64{5, 6}, tensor.Shape{2})
	require.NoError(t, err)
	require.NoError(t, q.Parameters().Load([]tensor.Named{{Name: "x", Tensor: src}}))
	assert.Equal(t, []float64{5, 6}, q.Parameters().Tensors()[0].Data())

	require.Error(t, q.Parameters().Load(nil))
}

func TestQuadratic_LossGrad(t *testing.T) {
	q, err := NewQuadratic([]float64{0, 0}, []float64{1, 2})
	require.NoError(t, err)

	loss, err := q.Loss(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, loss, 1e-12)

	checkGradients(t, q, q.Parameters(), nil, 1e-6)
}

func TestLinear_Gradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	m, err := NewLinear(LinearConfig{In: 3, Out: 2}, rng)
	require.NoError(t, err)
	assert.False(t, m.Adapter())

	checkGradients(t, m, m.Parameters(), regressionBatch(rng, 4, 3, 2), 1e-6)
}

func TestLinear_AdapterGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	m, err := NewLinear(LinearConfig{In: 4, Out: 3, Rank: 2}, rng)
	require.NoError(t, err)
	require.True(t, m.Adapter())

	// Give B non-zero values so both factors receive gradient.
	for _, p := range m.Parameters().Trainable() {
		for i := range p.Tensor().Data() {
			p.Tensor().Data()[i] = rng.NormFloat64() * 0.1
		}
	}
	names := []string{}
	for _, p := range m.Parameters().Trainable() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"linear.lora_A", "linear.lora_B"}, names)
	assert.False(t, m.Weight().Trainable())

	checkGradients(t, m, m.Parameters(), regressionBatch(rng, 5, 4, 3), 1e-6)
}

func TestLinear_RejectsWrongBatch(t *testing.T) {
	m, err := NewLinear(LinearConfig{In: 2, Out: 1}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	_, err = m.Loss(context.Background(), &TokenBatch{Tokens: []int{1, 2}})
	require.Error(t, err)

	_, err = m.Loss(context.Background(), &RegressionBatch{X: [][]float64{{1}}, Y: [][]float64{{1}}})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestBigramLM_Gradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	m, err := NewBigramLM(BigramConfig{Vocab: 5, Dim: 3}, rng)
	require.NoError(t, err)

	batch := &TokenBatch{Tokens: []int{0, 3, 1, 4, 4, 2, 0}}
	checkGradients(t, m, m.Parameters(), batch, 1e-6)
}

func TestBigramLM_RejectsOutOfVocab(t *testing.T) {
	m, err := NewBigramLM(BigramConfig{Vocab: 3, Dim: 2}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	_, err = m.Loss(context.Background(), &TokenBatch{Tokens: []int{0, 7}})
	require.Error(t, err)
}
