package trainer_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dizo/internal/divergence"
	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/optim"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/tensor"
	"github.com/born-ml/dizo/internal/trainer"
)

type batchSource struct{ b nn.Batch }

func (s batchSource) Next(context.Context) (nn.Batch, error) { return s.b, nil }

func linearTask(t *testing.T) (*nn.Linear, nn.Source) {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	l, err := nn.NewLinear(nn.LinearConfig{In: 3, Out: 2}, rng)
	require.NoError(t, err)
	b := &nn.RegressionBatch{}
	for range 8 {
		x := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		b.X = append(b.X, x)
		b.Y = append(b.Y, []float64{x[0] - x[1], 2 * x[2]})
	}
	return l, batchSource{b}
}

func TestReplay_ReproducesTrainedParameters(t *testing.T) {
	for _, mode := range []projection.Mode{projection.ModeNone, projection.ModeZO, projection.ModeFO} {
		t.Run(string(mode), func(t *testing.T) {
			model, src := linearTask(t)
			cfg := baseConfig(60)
			cfg.Estimator.Directions = 2
			cfg.ClipRange = 5
			cfg.Clipper = projection.CoefficientClip{}
			cfg.SGD = optim.SGDConfig{Momentum: 0.9, WeightDecay: 0.01}
			cfg.Projection = projection.Config{Mode: mode, LR: 1e-3, Iterations: 2}
			cfg.Divergence = divergence.Config{Cycle: 7}

			var records []*trainer.StepRecord
			sink := trainer.SinkFunc(func(_ context.Context, rec *trainer.StepRecord) error {
				records = append(records, rec)
				return nil
			})
			run, err := trainer.New(model, src, cfg, sink)
			require.NoError(t, err)

			initial := make([]tensor.Named, 0)
			for _, e := range model.Parameters().Named() {
				initial = append(initial, tensor.Named{Name: e.Name, Tensor: e.Tensor.Clone()})
			}
			require.NoError(t, run.Train(context.Background()))
			require.Len(t, records, 60)

			fresh, _ := linearTask(t)
			require.NoError(t, fresh.Parameters().Load(initial))
			require.NoError(t, trainer.Replay(context.Background(), fresh.Parameters(), records, cfg))
			assert.Equal(t, model.Parameters().Fingerprint(), fresh.Parameters().Fingerprint())
		})
	}
}

func TestReplay_RejectsGaps(t *testing.T) {
	model, _ := linearTask(t)
	err := trainer.Replay(context.Background(), model.Parameters(), []*trainer.StepRecord{{Step: 1}}, baseConfig(1))
	require.Error(t, err)
}
