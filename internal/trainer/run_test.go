package trainer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dizo/internal/divergence"
	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/trainer"
	"github.com/born-ml/dizo/internal/zo"
)

type constSource struct{}

func (constSource) Next(context.Context) (nn.Batch, error) { return nil, nil }

// model wraps a quadratic with an overridable loss.
type model struct {
	*nn.Quadratic
	loss func(ctx context.Context, b nn.Batch) (float64, error)
}

func (m *model) Loss(ctx context.Context, b nn.Batch) (float64, error) {
	if m.loss != nil {
		return m.loss(ctx, b)
	}
	return m.Quadratic.Loss(ctx, b)
}

func quadratic(t *testing.T) *nn.Quadratic {
	t.Helper()
	q, err := nn.NewQuadratic([]float64{0, 0}, []float64{1, 2})
	require.NoError(t, err)
	return q
}

func baseConfig(steps int) trainer.Config {
	return trainer.Config{
		Steps:     steps,
		Seed:      7,
		LR:        1e-2,
		Estimator: zo.Config{Epsilon: 1e-3, Directions: 1},
		Parallel:  parallel.Sequential(),
	}
}

func TestRun_ConvergesOnQuadratic(t *testing.T) {
	// Projection learning rates are scaled down to the size of this toy
	// loss; the last refresh lands right before the final update.
	tests := []struct {
		mode projection.Mode
		lr   float64
	}{
		{projection.ModeNone, 0},
		{projection.ModeZO, 1e-2},
		{projection.ModeFO, 1e-4},
	}
	for _, tt := range tests {
		mode := tt.mode
		t.Run(string(mode), func(t *testing.T) {
			q := quadratic(t)
			cfg := baseConfig(1000)
			cfg.Projection = projection.Config{Mode: mode, LR: tt.lr}
			run, err := trainer.New(q, constSource{}, cfg)
			require.NoError(t, err)

			require.NoError(t, run.Train(context.Background()))
			assert.Equal(t, 1000, run.StepCount())
			assert.Equal(t, trainer.PhaseDone, run.Phase())

			x := q.Parameters().Tensors()[0].Data()
			assert.InDelta(t, 1.0, x[0], 1e-2)
			assert.InDelta(t, 2.0, x[1], 1e-2)
			if mode != projection.ModeNone {
				assert.Equal(t, 20, run.Projector().Refreshes())
			}
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	final := func() [32]byte {
		q := quadratic(t)
		cfg := baseConfig(200)
		cfg.Projection = projection.Config{Mode: projection.ModeZO}
		cfg.Estimator.Directions = 3
		cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1}
		run, err := trainer.New(q, constSource{}, cfg)
		require.NoError(t, err)
		require.NoError(t, run.Train(context.Background()))
		return q.Parameters().Fingerprint()
	}
	assert.Equal(t, final(), final())
}

func TestRun_PhaseTransitions(t *testing.T) {
	q := quadratic(t)
	m := &model{Quadratic: q}
	cfg := baseConfig(4)
	cfg.Projection = projection.Config{Mode: projection.ModeZO, Iterations: 1}
	cfg.Divergence = divergence.Config{Cycle: 2}
	run, err := trainer.New(m, constSource{}, cfg)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []trainer.Phase
	)
	m.loss = func(ctx context.Context, b nn.Batch) (float64, error) {
		mu.Lock()
		seen = append(seen, run.Phase())
		mu.Unlock()
		return q.Loss(ctx, b)
	}
	assert.Equal(t, trainer.PhaseIdle, run.Phase())

	rec, err := run.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.Refreshed())
	assert.Equal(t, []trainer.Phase{trainer.PhaseEstimating, trainer.PhaseEstimating}, seen)
	assert.Equal(t, trainer.PhaseIdle, run.Phase())

	seen = nil
	rec, err = run.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Refreshed())
	assert.Equal(t, []trainer.Phase{
		trainer.PhaseEstimating, trainer.PhaseEstimating,
		trainer.PhaseProjecting, trainer.PhaseProjecting,
	}, seen)

	for range 2 {
		_, err = run.Step(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, trainer.PhaseDone, run.Phase())
	_, err = run.Step(context.Background())
	require.ErrorIs(t, err, trainer.ErrDone)
}

func TestRun_RecordsRefreshesOnCycle(t *testing.T) {
	q := quadratic(t)
	cfg := baseConfig(20)
	cfg.Projection = projection.Config{Mode: projection.ModeZO}
	cfg.Divergence = divergence.Config{Cycle: 5}

	var refreshed []int
	var records int
	sink := trainer.SinkFunc(func(_ context.Context, rec *trainer.StepRecord) error {
		records++
		if rec.Refreshed() {
			refreshed = append(refreshed, rec.Step)
			assert.Equal(t, []string{"x"}, rec.Refresh.Layers)
		}
		assert.Len(t, rec.Pairs, 1)
		assert.Len(t, rec.Weights, 1)
		assert.Equal(t, 1e-2, rec.LR)
		return nil
	})
	run, err := trainer.New(q, constSource{}, cfg, sink)
	require.NoError(t, err)
	require.NoError(t, run.Train(context.Background()))

	assert.Equal(t, 20, records)
	assert.Equal(t, []int{4, 9, 14, 19}, refreshed)
}

func TestRun_ThresholdRefreshesBeforeFirstCycle(t *testing.T) {
	// The global clip shrinks every direction far below its raw norm, so
	// the norm ratio divergence exceeds the threshold from the first step.
	q := quadratic(t)
	cfg := baseConfig(10)
	cfg.ClipRange = 1e-3
	cfg.Projection = projection.Config{Mode: projection.ModeZO, Iterations: 1}
	cfg.Divergence = divergence.Config{
		Strategy:  divergence.NormRatio{},
		Cycle:     50,
		Threshold: 0.1,
		Smoothing: 1,
		MinGap:    5,
	}

	var refreshed []int
	sink := trainer.SinkFunc(func(_ context.Context, rec *trainer.StepRecord) error {
		if rec.Refreshed() {
			refreshed = append(refreshed, rec.Step)
		}
		return nil
	})
	run, err := trainer.New(q, constSource{}, cfg, sink)
	require.NoError(t, err)
	require.NoError(t, run.Train(context.Background()))

	assert.Equal(t, []int{1, 6}, refreshed)
	assert.Equal(t, 6, run.Monitor().LastRefresh())
}

func TestRun_ClipsUpdate(t *testing.T) {
	q := quadratic(t)
	cfg := baseConfig(50)
	cfg.ClipRange = 0.5
	cfg.Clipper = projection.LayerClip{}
	run, err := trainer.New(q, constSource{}, cfg)
	require.NoError(t, err)

	for range 50 {
		rec, err := run.Step(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, rec.UpdateNorm, cfg.LR*cfg.ClipRange+4*tensor.Quantum)
	}
}

func TestRun_CancellationLeavesParametersRestored(t *testing.T) {
	q := quadratic(t)
	m := &model{Quadratic: q}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	m.loss = func(ctx context.Context, b nn.Batch) (float64, error) {
		calls++
		if calls == 25 { // Mid-estimate of step 4
			cancel()
		}
		return q.Loss(ctx, b)
	}

	var last [32]byte
	sink := trainer.SinkFunc(func(context.Context, *trainer.StepRecord) error {
		last = q.Parameters().Fingerprint()
		return nil
	})
	cfg := baseConfig(100)
	cfg.Estimator.Directions = 3
	run, err := trainer.New(m, constSource{}, cfg, sink)
	require.NoError(t, err)

	err = run.Train(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, run.StepCount())
	assert.Equal(t, last, q.Parameters().Fingerprint())
	assert.Equal(t, trainer.PhaseIdle, run.Phase())
}

func TestRun_DriftIsFatal(t *testing.T) {
	q := quadratic(t)
	m := &model{Quadratic: q}
	m.loss = func(ctx context.Context, b nn.Batch) (float64, error) {
		q.Parameters().Tensors()[0].Data()[1] += tensor.Quantum
		return q.Loss(ctx, b)
	}
	cfg := baseConfig(10)
	cfg.Estimator.VerifyRestore = true
	run, err := trainer.New(m, constSource{}, cfg)
	require.NoError(t, err)

	err = run.Train(context.Background())
	require.ErrorIs(t, err, zo.ErrParameterDrift)
	_, again := run.Step(context.Background())
	require.ErrorIs(t, again, zo.ErrParameterDrift)
	assert.Equal(t, 0, run.StepCount())
}

func TestNew_Validation(t *testing.T) {
	q := quadratic(t)
	_, err := trainer.New(q, constSource{}, trainer.Config{})
	require.Error(t, err)

	cfg := baseConfig(1)
	cfg.ClipRange = -1
	_, err = trainer.New(q, constSource{}, cfg)
	require.Error(t, err)

	frozen, err := nn.NewParameterSet(nn.NewFrozen("w", tensor.Zeros(tensor.Shape{1})))
	require.NoError(t, err)
	_, err = trainer.New(frozenModel{frozen}, constSource{}, baseConfig(1))
	require.Error(t, err)

	q.Parameters().Tensors()[0].Data()[0] = 1e9
	_, err = trainer.New(q, constSource{}, baseConfig(1))
	require.ErrorIs(t, err, tensor.ErrLatticeOverflow)
}

type frozenModel struct{ set *nn.ParameterSet }

func (f frozenModel) Loss(context.Context, nn.Batch) (float64, error) { return 0, nil }
func (f frozenModel) Parameters() *nn.ParameterSet                    { return f.set }

func TestLogSink(t *testing.T) {
	rec := &trainer.StepRecord{Step: 4, Refresh: &projection.Result{Layers: []string{"x"}}}
	require.NoError(t, trainer.LogSink{Every: 5}.RecordStep(context.Background(), rec))

	var calls int
	count := trainer.SinkFunc(func(context.Context, *trainer.StepRecord) error { calls++; return nil })
	require.NoError(t, trainer.MultiSink{count, count, trainer.LogSink{}}.RecordStep(context.Background(), rec))
	assert.Equal(t, 2, calls)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "estimating", trainer.PhaseEstimating.String())
	assert.Equal(t, "done", trainer.PhaseDone.String())
	assert.Equal(t, "unknown", trainer.Phase(42).String())
}
