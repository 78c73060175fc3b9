package projection_test

import (
	"context"
	"errors"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/zo"
)

// constSource yields the same nil batch forever.
type constSource struct{}

func (constSource) Next(context.Context) (nn.Batch, error) { return nil, nil }

// overshoot builds a quadratic anchored at zero whose parameters have
// drifted to twice the target.
func overshoot(t *testing.T, dim int) (*nn.Quadratic, []float64) {
	t.Helper()
	target := make([]float64, dim)
	for i := range target {
		target[i] = tensor.Snap(math.Sin(float64(i)+1) * 2)
	}
	q, err := nn.NewQuadratic(make([]float64, dim), target)
	require.NoError(t, err)
	return q, target
}

func drift(q *nn.Quadratic, target []float64, factor float64) {
	data := q.Parameters().Tensors()[0].Data()
	for i := range data {
		data[i] = tensor.Snap(factor * target[i])
	}
}

func loss(t *testing.T, q *nn.Quadratic) float64 {
	t.Helper()
	l, err := q.Loss(context.Background(), nil)
	require.NoError(t, err)
	return l
}

func TestNew_SelectsLayers(t *testing.T) {
	set, err := nn.NewParameterSet(
		nn.NewParameter("embed.weight", tensor.Zeros(tensor.Shape{2})),
		nn.NewParameter("layer.0.weight", tensor.Zeros(tensor.Shape{2})),
		nn.NewParameter("layer.0.bias", tensor.Zeros(tensor.Shape{2})),
		nn.NewFrozen("base.weight", tensor.Zeros(tensor.Shape{2})),
	)
	require.NoError(t, err)

	p, err := projection.New(set, projection.Config{Mode: projection.ModeZO, Exclude: []string{"embed.*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"layer.0.weight", "layer.0.bias"}, p.Layers())
	assert.True(t, p.Enabled())

	p, err = projection.New(set, projection.Config{Mode: projection.ModeZO, Include: []string{"*.weight"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"embed.weight", "layer.0.weight"}, p.Layers())

	p, err = projection.New(set, projection.Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Equal(t, []float64{1, 1, 1}, p.Weights())

	_, err = projection.New(set, projection.Config{Mode: projection.ModeZO, Exclude: []string{"["}})
	require.Error(t, err)
	_, err = projection.New(set, projection.Config{Mode: projection.ModeZO, GammaBound: 1})
	require.Error(t, err)
	_, err = projection.New(set, projection.Config{Mode: "sgd"})
	require.Error(t, err)
}

func TestParseModes(t *testing.T) {
	m, err := projection.ParseMode("fo")
	require.NoError(t, err)
	assert.Equal(t, projection.ModeFO, m)
	_, err = projection.ParseMode("so")
	require.Error(t, err)

	n, err := projection.ParseNormMode("")
	require.NoError(t, err)
	assert.Equal(t, projection.NormL2, n)
	_, err = projection.ParseNormMode("l1")
	require.Error(t, err)
}

func TestProject_UnitWeightsBeforeRefresh(t *testing.T) {
	q, _ := overshoot(t, 4)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeZO})
	require.NoError(t, err)

	d := zo.NewDirection(&zo.Estimate{Pairs: []zo.Pair{{Seed: 1, Coefficient: 2}}, Epsilon: 1e-3}, 1)
	d.Weights[0] = 7
	out := p.Project(d)
	assert.Equal(t, []float64{1}, out.Weights)
	assert.Equal(t, 7.0, d.Weights[0], "input must not be modified")
}

func TestCommit_L2(t *testing.T) {
	q, target := overshoot(t, 8)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeZO})
	require.NoError(t, err)
	drift(q, target, 2)

	before := q.Parameters().Tensors()[0].Clone()
	norm := before.Norm()

	// Committing the current drift norm is the identity.
	require.NoError(t, p.Commit([]float64{norm}))
	assert.True(t, before.Equal(q.Parameters().Tensors()[0]))
	assert.Equal(t, []float64{1}, p.Weights())

	// Halving the drift norm halves every value; the weight is bounded.
	require.NoError(t, p.Commit([]float64{norm / 2}))
	for i, v := range q.Parameters().Tensors()[0].Data() {
		assert.InDelta(t, before.Data()[i]/2, v, tensor.Quantum)
	}
	assert.InDelta(t, 0.8, p.Weights()[0], 1e-12)
	assert.Equal(t, []float64{norm / 2}, p.Gammas())
	assert.Equal(t, 2, p.Refreshes())

	require.ErrorIs(t, p.Commit([]float64{1, 2}), tensor.ErrShapeMismatch)
}

func TestCommit_MARS(t *testing.T) {
	w := tensor.Zeros(tensor.Shape{2, 3})
	set, err := nn.NewParameterSet(nn.NewParameter("w", w))
	require.NoError(t, err)
	p, err := projection.New(set, projection.Config{Mode: projection.ModeZO, NormMode: projection.NormMARS})
	require.NoError(t, err)

	copy(w.Data(), []float64{1, -1, 2, 0.5, 0.5, 0})
	require.NoError(t, p.Commit([]float64{3}))

	// Every row is rescaled to L1 norm gamma.
	data := w.Data()
	assert.InDelta(t, 3, floats.Norm(data[0:3], 1), 1e-9)
	assert.InDelta(t, 3, floats.Norm(data[3:6], 1), 1e-9)
	assert.InDelta(t, -0.75, data[1], 1e-9)
}

func TestRefresh_MARSStartsFromMeanRowNorm(t *testing.T) {
	w := tensor.Zeros(tensor.Shape{2, 3})
	set, err := nn.NewParameterSet(nn.NewParameter("w", w))
	require.NoError(t, err)
	p, err := projection.New(set, projection.Config{Mode: projection.ModeZO, NormMode: projection.NormMARS})
	require.NoError(t, err)
	copy(w.Data(), []float64{1, -1, 2, 0.5, 0.5, 0})

	// A flat loss leaves gamma at its starting point.
	flat := nn.EvaluatorFunc(func(context.Context, nn.Batch) (float64, error) { return 1, nil })
	res, err := p.Refresh(context.Background(), flat, constSource{}, 7)
	require.NoError(t, err)

	assert.Equal(t, []float64{2.5}, res.Drift)
	assert.NotEqual(t, math.Sqrt(6.5), res.Drift[0])
	assert.Equal(t, []float64{2.5}, res.Gammas)
}

func TestRefresh_ZOShrinksOvershoot(t *testing.T) {
	q, target := overshoot(t, 16)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeZO})
	require.NoError(t, err)
	drift(q, target, 2)
	t0 := q.Parameters().Tensors()[0].Norm()
	lossBefore := loss(t, q)

	res, err := p.Refresh(context.Background(), q, constSource{}, 42)
	require.NoError(t, err)

	// The loss falls as gamma shrinks, down to the lower bound of 0.8 t.
	require.Len(t, res.Gammas, 1)
	assert.InDelta(t, 0.8*t0, res.Gammas[0], 1e-9)
	assert.InDelta(t, t0, res.Drift[0], 1e-12)
	assert.InDelta(t, 0.8, res.Weights[0], 1e-9)
	assert.Len(t, res.Losses, 10)
	assert.Equal(t, []string{"x"}, res.Layers)
	assert.Less(t, loss(t, q), lossBefore)
	assert.InDelta(t, 0.8*t0, q.Parameters().Tensors()[0].Norm(), 1e-9)
}

func TestRefresh_FODescends(t *testing.T) {
	q, target := overshoot(t, 16)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeFO})
	require.NoError(t, err)
	drift(q, target, 2)
	t0 := q.Parameters().Tensors()[0].Norm()
	lossBefore := loss(t, q)

	res, err := p.Refresh(context.Background(), q, constSource{}, 0)
	require.NoError(t, err)

	assert.Less(t, res.Gammas[0], t0)
	assert.GreaterOrEqual(t, res.Gammas[0], 0.8*t0-1e-12)
	assert.Less(t, loss(t, q), lossBefore)
	for i := 1; i < len(res.Losses); i++ {
		assert.LessOrEqual(t, res.Losses[i], res.Losses[i-1]+1e-9)
	}
}

func TestRefresh_FORequiresGradients(t *testing.T) {
	q, target := overshoot(t, 4)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeFO})
	require.NoError(t, err)
	drift(q, target, 2)
	before := q.Parameters().Fingerprint()

	lossOnly := nn.EvaluatorFunc(q.Loss)
	_, err = p.Refresh(context.Background(), lossOnly, constSource{}, 0)
	require.ErrorIs(t, err, projection.ErrGradientUnavailable)
	assert.Equal(t, before, q.Parameters().Fingerprint())
	assert.Equal(t, 0, p.Refreshes())
}

func TestRefresh_RestoresOnFailure(t *testing.T) {
	q, target := overshoot(t, 6)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeZO})
	require.NoError(t, err)
	drift(q, target, 1.5)
	before := q.Parameters().Fingerprint()
	boom := errors.New("boom")

	calls := 0
	failing := nn.EvaluatorFunc(func(ctx context.Context, b nn.Batch) (float64, error) {
		calls++
		if calls == 5 {
			return 0, boom
		}
		return q.Loss(ctx, b)
	})
	_, err = p.Refresh(context.Background(), failing, constSource{}, 1)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, q.Parameters().Fingerprint())

	panicking := nn.EvaluatorFunc(func(context.Context, nn.Batch) (float64, error) { panic("exploded") })
	assert.Panics(t, func() { _, _ = p.Refresh(context.Background(), panicking, constSource{}, 1) })
	assert.Equal(t, before, q.Parameters().Fingerprint())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Refresh(ctx, q, constSource{}, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, q.Parameters().Fingerprint())
}

func TestRefresh_ZeroDriftIsNoop(t *testing.T) {
	q, _ := overshoot(t, 4)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeFO})
	require.NoError(t, err)
	before := q.Parameters().Fingerprint()

	res, err := p.Refresh(context.Background(), q, constSource{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, res.Gammas)
	assert.Equal(t, []float64{1}, res.Weights)
	assert.Equal(t, before, q.Parameters().Fingerprint())
}

func TestRefresh_BoundedMemoryOverManyCycles(t *testing.T) {
	if testing.Short() {
		t.Skip("long-running")
	}
	const dim = 1 << 12
	q, target := overshoot(t, dim)
	p, err := projection.New(q.Parameters(), projection.Config{Mode: projection.ModeFO, Iterations: 2})
	require.NoError(t, err)

	heap := func() uint64 {
		runtime.GC()
		runtime.GC()
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ms.HeapAlloc
	}

	var baseline uint64
	for cycle := 0; cycle < 500; cycle++ {
		drift(q, target, 2)
		_, err := p.Refresh(context.Background(), q, constSource{}, uint64(cycle))
		require.NoError(t, err)
		if cycle == 19 {
			baseline = heap()
		}
	}
	assert.Equal(t, 500, p.Refreshes())

	// One cycle allocates about 64 KiB; a leak would grow by tens of MiB.
	grown := int64(heap()) - int64(baseline)
	assert.Less(t, grown, int64(1<<20), "heap grew by %d bytes", grown)
}

func TestClip(t *testing.T) {
	base := zo.NewDirection(&zo.Estimate{
		Pairs:   []zo.Pair{{Seed: 1, Coefficient: 5}, {Seed: 2, Coefficient: -0.5}},
		Epsilon: 1e-3,
	}, 3)
	copy(base.Weights, []float64{1, 2, 0.5})
	norms := []float64{3, 4, 5}

	t.Run("global", func(t *testing.T) {
		require.Greater(t, projection.Magnitude(base, norms), 1.0)
		out := projection.GlobalClip{}.Clip(base, norms, 1)
		assert.InDelta(t, 1, projection.Magnitude(out, norms), 1e-12)
		assert.Equal(t, []float64{1, 2, 0.5}, base.Weights)

		same := projection.GlobalClip{}.Clip(base, norms, 100)
		assert.Equal(t, base.Weights, same.Weights)
	})

	t.Run("layer", func(t *testing.T) {
		out := projection.LayerClip{}.Clip(base, norms, 3)
		assert.Equal(t, 1.0, out.Weights[0]) // 3 is not above the limit
		assert.InDelta(t, 3, out.Weights[1]*norms[1], 1e-12)
		assert.Equal(t, 0.5, out.Weights[2])
	})

	t.Run("coefficient", func(t *testing.T) {
		out := projection.CoefficientClip{}.Clip(base, norms, 1)
		assert.Equal(t, []float64{1, -0.5}, out.Coefficients)
		assert.Equal(t, []float64{5, -0.5}, base.Coefficients)
	})

	t.Run("parse", func(t *testing.T) {
		for _, name := range []string{"", "global", "layer", "coefficient"} {
			c, err := projection.ParseClip(name)
			require.NoError(t, err)
			if name != "" {
				assert.Equal(t, name, c.Name())
			}
		}
		_, err := projection.ParseClip("value")
		require.Error(t, err)
	})
}
