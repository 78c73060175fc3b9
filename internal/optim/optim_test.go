package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/optim"
	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/perturb"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/zo"
)

const eps = 1e-3

func direction(layers int, pairs ...zo.Pair) zo.Direction {
	return zo.NewDirection(&zo.Estimate{Pairs: pairs, Epsilon: eps}, layers)
}

// unit returns the realised unit direction of seed at (layer, i).
func unit(seed uint64, layer, i int) float64 {
	return perturb.Step(perturb.LayerKey(seed, layer), i, eps) / eps
}

// TestSGD_SimpleUpdate tests the update without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	param := nn.NewParameter("x", tensor.Full(tensor.Shape{8}, 0.5))
	sgd := optim.NewSGD(optim.SGDConfig{Parallel: parallel.Sequential()})

	dir := direction(1, zo.Pair{Seed: 11, Coefficient: 2})
	dir.Weights[0] = 0.5
	norm, err := sgd.Step([]*nn.Parameter{param}, dir, 0.1)
	require.NoError(t, err)

	var sq float64
	for i, got := range param.Tensor().Data() {
		want := tensor.Snap(0.5 - 0.1*0.5*2*unit(11, 0, i))
		assert.Equal(t, want, got, "element %d", i)
		sq += (want - 0.5) * (want - 0.5)
	}
	assert.InDelta(t, math.Sqrt(sq), norm, 1e-15)
}

// TestSGD_AveragesDirections tests that coefficients are averaged over directions.
func TestSGD_AveragesDirections(t *testing.T) {
	param := nn.NewParameter("x", tensor.Zeros(tensor.Shape{4}))
	sgd := optim.NewSGD(optim.SGDConfig{Parallel: parallel.Sequential()})

	dir := direction(1, zo.Pair{Seed: 1, Coefficient: 1}, zo.Pair{Seed: 2, Coefficient: -3})
	_, err := sgd.Step([]*nn.Parameter{param}, dir, 1)
	require.NoError(t, err)

	for i, got := range param.Tensor().Data() {
		g := (1*unit(1, 0, i) - 3*unit(2, 0, i)) / 2
		assert.InDelta(t, -g, got, 2*tensor.Quantum)
	}
}

// TestSGD_WithMomentum tests that the velocity accumulates across steps.
func TestSGD_WithMomentum(t *testing.T) {
	param := nn.NewParameter("x", tensor.Zeros(tensor.Shape{3}))
	sgd := optim.NewSGD(optim.SGDConfig{Momentum: 0.9, Parallel: parallel.Sequential()})
	dir := direction(1, zo.Pair{Seed: 5, Coefficient: 1})

	_, err := sgd.Step([]*nn.Parameter{param}, dir, 0.1)
	require.NoError(t, err)
	_, err = sgd.Step([]*nn.Parameter{param}, dir, 0.1)
	require.NoError(t, err)

	// x_2 = -0.1 * g - 0.1 * 1.9 * g = -0.29 * g
	for i, got := range param.Tensor().Data() {
		assert.InDelta(t, -0.29*unit(5, 0, i), got, 4*tensor.Quantum)
	}
}

// TestSGD_WeightDecaySkipsBias tests that bias parameters are not decayed.
func TestSGD_WeightDecaySkipsBias(t *testing.T) {
	weight := nn.NewParameter("linear.weight", tensor.Full(tensor.Shape{2}, 1))
	bias := nn.NewParameter("linear.bias", tensor.Full(tensor.Shape{2}, 1))
	sgd := optim.NewSGD(optim.SGDConfig{WeightDecay: 0.5, Parallel: parallel.Sequential()})

	// A zero coefficient isolates the decay term.
	_, err := sgd.Step([]*nn.Parameter{weight, bias}, direction(2, zo.Pair{Seed: 1}), 0.1)
	require.NoError(t, err)

	assert.Equal(t, []float64{tensor.Snap(0.95), tensor.Snap(0.95)}, weight.Tensor().Data())
	assert.Equal(t, []float64{1, 1}, bias.Tensor().Data())
}

// TestSGD_ParallelMatchesSequential tests that chunking does not change results.
func TestSGD_ParallelMatchesSequential(t *testing.T) {
	run := func(par parallel.Config) *tensor.Tensor {
		param := nn.NewParameter("x", tensor.Full(tensor.Shape{1000}, 0.25))
		sgd := optim.NewSGD(optim.SGDConfig{Momentum: 0.5, WeightDecay: 0.1, Parallel: par})
		for s := uint64(0); s < 5; s++ {
			_, err := sgd.Step([]*nn.Parameter{param}, direction(1, zo.Pair{Seed: s, Coefficient: 0.3}), 0.01)
			require.NoError(t, err)
		}
		return param.Tensor()
	}
	seq := run(parallel.Sequential())
	par := run(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16})
	assert.True(t, seq.Equal(par))
}

// TestSGD_Errors tests structural failures.
func TestSGD_Errors(t *testing.T) {
	param := nn.NewParameter("x", tensor.Full(tensor.Shape{2}, tensor.MaxMagnitude))
	sgd := optim.NewSGD(optim.SGDConfig{WeightDecay: -1, Parallel: parallel.Sequential()})

	_, err := sgd.Step([]*nn.Parameter{param}, direction(2, zo.Pair{Seed: 1}), 0.1)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	// Negative decay pushes the value past the lattice bound.
	_, err = sgd.Step([]*nn.Parameter{param}, direction(1, zo.Pair{Seed: 1}), 1)
	require.ErrorIs(t, err, tensor.ErrLatticeOverflow)
	var ve *tensor.ValueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "x", ve.Tensor)
	assert.Equal(t, 0, ve.Index)
}

// TestSGD_StateDict tests velocity export and import.
func TestSGD_StateDict(t *testing.T) {
	params := []*nn.Parameter{
		nn.NewParameter("a", tensor.Zeros(tensor.Shape{3})),
		nn.NewParameter("b", tensor.Zeros(tensor.Shape{2})),
	}
	sgd := optim.NewSGD(optim.SGDConfig{Momentum: 0.9, Parallel: parallel.Sequential()})
	assert.Empty(t, sgd.StateDict(params))

	_, err := sgd.Step(params, direction(2, zo.Pair{Seed: 3, Coefficient: 1}), 0.1)
	require.NoError(t, err)
	state := sgd.StateDict(params)
	require.Len(t, state, 2)
	assert.Equal(t, "velocity.0", state[0].Name)

	restored := optim.NewSGD(optim.SGDConfig{Momentum: 0.9, Parallel: parallel.Sequential()})
	require.NoError(t, restored.LoadStateDict(params, state))
	assert.Equal(t, state, restored.StateDict(params))

	bad := []tensor.Named{{Name: "velocity.0", Tensor: tensor.Zeros(tensor.Shape{7})}}
	require.ErrorIs(t, restored.LoadStateDict(params, bad), tensor.ErrShapeMismatch)
}

// TestAdam_SimpleUpdate tests that the first Adam step moves by lr against the gradient sign.
func TestAdam_SimpleUpdate(t *testing.T) {
	adam := optim.NewAdam(2, optim.AdamConfig{LR: 0.1})
	params := []float64{1, 1}
	require.NoError(t, adam.Step(params, []float64{0.5, -2}))

	assert.InDelta(t, 0.9, params[0], 1e-6)
	assert.InDelta(t, 1.1, params[1], 1e-6)
	assert.Equal(t, 1, adam.Timestep())

	require.Error(t, adam.Step(params, []float64{1}))
}

// TestAdam_Converges tests Adam on a one-dimensional quadratic.
func TestAdam_Converges(t *testing.T) {
	adam := optim.NewAdam(1, optim.AdamConfig{LR: 0.05})
	x := []float64{3}
	for range 2000 {
		require.NoError(t, adam.Step(x, []float64{2 * (x[0] - 1)}))
	}
	assert.InDelta(t, 1.0, x[0], 2e-2)

	adam.SetLR(0.5)
	assert.Equal(t, 0.5, adam.LR())
}

func TestSchedules(t *testing.T) {
	constant, err := optim.NewSchedule(optim.ScheduleConfig{LR: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "constant", constant.Name())
	assert.Equal(t, 0.1, constant.LR(0))
	assert.Equal(t, 0.1, constant.LR(1e6))

	linear, err := optim.NewSchedule(optim.ScheduleConfig{Kind: "linear", LR: 1, MinLR: 0, Steps: 10})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, linear.LR(0), 1e-12)
	assert.InDelta(t, 0.5, linear.LR(5), 1e-12)
	assert.Equal(t, 0.0, linear.LR(10))

	cosine, err := optim.NewSchedule(optim.ScheduleConfig{Kind: "cosine", LR: 1, MinLR: 0.1, Steps: 12, Warmup: 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cosine.LR(0), 1e-12)
	assert.InDelta(t, 1.0, cosine.LR(1), 1e-12)
	assert.InDelta(t, 1.0, cosine.LR(2), 1e-12)
	assert.InDelta(t, 0.55, cosine.LR(7), 1e-12)
	assert.InDelta(t, 0.1, cosine.LR(12), 1e-12)

	for _, bad := range []optim.ScheduleConfig{
		{LR: 0},
		{LR: 1, MinLR: 2},
		{Kind: "cosine", LR: 1, Steps: 0},
		{Kind: "step", LR: 1},
	} {
		_, err := optim.NewSchedule(bad)
		assert.Error(t, err, "%+v", bad)
	}
}
