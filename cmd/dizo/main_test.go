package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dizo/internal/config"
	"github.com/born-ml/dizo/internal/metrics"
	"github.com/born-ml/dizo/internal/store"
)

func TestParseSeedsAndModes(t *testing.T) {
	seeds, err := parseSeeds("1, 2,,30")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 30}, seeds)
	_, err = parseSeeds("x")
	require.Error(t, err)
	_, err = parseSeeds(",")
	require.Error(t, err)

	modes, err := parseModes("none,fo")
	require.NoError(t, err)
	assert.Equal(t, []string{"none", "fo"}, modes)
	_, err = parseModes("so")
	require.Error(t, err)
}

func TestWindow(t *testing.T) {
	w := newWindow(2)
	assert.True(t, math.IsNaN(w.mean()))
	for _, v := range []float64{10, math.NaN(), 1, 3} {
		w.add(v)
	}
	assert.Equal(t, 2.0, w.mean())
}

func TestTrainThenReplay(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	cfg := config.Defaults()
	cfg.Run.Steps = 30
	cfg.Run.Workers = 1
	cfg.Task.Name = "regression"
	cfg.Optimizer.LR = 1e-2
	cfg.Projection.Mode = "zo"
	cfg.Projection.LR = 1e-3
	cfg.Projection.Iterations = 2
	cfg.Divergence.Cycle = 10
	require.NoError(t, cfg.Validate())

	st, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	res, err := train(ctx, cfg, zerolog.Nop(), metrics.NewCollector(nil), st, nil)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	assert.Equal(t, int64(1), res.storeID)
	assert.Equal(t, 3, res.refreshes)
	assert.False(t, math.IsNaN(res.finalLoss))

	require.NoError(t, runReplay(ctx, []string{"-store", path}))
	require.NoError(t, runRuns(ctx, []string{"-store", path}))
}
