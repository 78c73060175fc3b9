package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/dizo/internal/config"
	"github.com/born-ml/dizo/internal/metrics"
	"github.com/born-ml/dizo/internal/store"
	"github.com/born-ml/dizo/internal/task"
	"github.com/born-ml/dizo/internal/trainer"
)

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configFile := fs.String("config", "", "Configuration file path (default: built-in defaults)")
	steps := fs.Int("steps", 0, "Override run.steps")
	seed := fs.Uint64("seed", 0, "Override run.seed")
	mode := fs.String("projection", "", "Override projection.mode (none, zo, fo)")
	storePath := fs.String("store", "", "Override store.path")
	metricsAddr := fs.String("metrics", "", "Override metrics.addr")
	progress := fs.Bool("progress", true, "Show a progress bar")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *steps > 0 {
		cfg.Run.Steps = *steps
	}
	if *seed > 0 {
		cfg.Run.Seed = *seed
	}
	if *mode != "" {
		cfg.Projection.Mode = *mode
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := setupLogger(cfg, *verbose)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Addr != "" {
		collector = metrics.NewCollector(nil)
		srv := serveMetrics(cfg.Metrics.Addr, collector, logger)
		defer srv.Shutdown() //nolint:errcheck // Best effort on exit.
	}

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var bar *progressbar.ProgressBar
	if *progress {
		bar = newProgressBar(cfg.Run.Steps, cfg.Run.Name)
	}
	res, err := train(ctx, cfg, logger, collector, st, bar)
	if bar != nil {
		bar.Finish() //nolint:errcheck // Terminal output only.
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("run", cfg.Run.Name).
		Int64("store_id", res.storeID).
		Float64("final_loss", res.finalLoss).
		Int("refreshes", res.refreshes).
		Dur("took", res.took).
		Msg("run complete")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.Load(path)
}

func newProgressBar(steps int, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions(steps,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
	)
}

// result summarises a finished run.
type result struct {
	name      string
	seed      uint64
	mode      string
	storeID   int64
	finalLoss float64
	refreshes int
	took      time.Duration
}

// finalWindow is the number of trailing steps averaged into the final loss.
const finalWindow = 10

// train builds and trains one run. collector, st and bar are optional.
func train(
	ctx context.Context,
	cfg *config.Config,
	logger zerolog.Logger,
	collector *metrics.Collector,
	st *store.Store,
	bar *progressbar.ProgressBar,
) (*result, error) {
	logger = logger.With().Str("run", cfg.Run.Name).Logger()
	tk, err := task.Build(cfg.TaskConfig())
	if err != nil {
		return nil, err
	}
	tcfg, err := cfg.Trainer(logger)
	if err != nil {
		return nil, err
	}

	res := &result{name: cfg.Run.Name, seed: cfg.Run.Seed, mode: cfg.Projection.Mode}
	losses := newWindow(finalWindow)
	sinks := []trainer.Sink{
		trainer.LogSink{Logger: logger, Every: cfg.Logging.Every},
		trainer.SinkFunc(func(_ context.Context, rec *trainer.StepRecord) error {
			losses.add(rec.Loss)
			if bar != nil {
				bar.Add(1) //nolint:errcheck // Terminal output only.
			}
			return nil
		}),
	}
	if collector != nil {
		sinks = append(sinks, collector.Sink(cfg.Run.Name))
	}
	// The store id is assigned after trainer.New has snapped the
	// parameters, and before the first step is recorded.
	if st != nil {
		sinks = append(sinks, trainer.SinkFunc(func(ctx context.Context, rec *trainer.StepRecord) error {
			return st.AppendStep(ctx, res.storeID, rec)
		}))
	}

	run, err := trainer.New(tk.Model, tk.Source, tcfg, sinks...)
	if err != nil {
		return nil, err
	}
	params := tk.Model.Parameters()
	if st != nil {
		data, err := cfg.Marshal()
		if err != nil {
			return nil, err
		}
		if res.storeID, err = st.CreateRun(ctx, cfg.Run.Name, data, params.Named()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := run.Train(ctx); err != nil {
		return nil, err
	}
	res.took = time.Since(start)
	res.finalLoss = losses.mean()
	res.refreshes = run.Projector().Refreshes()

	if st != nil {
		if err := st.FinishRun(ctx, res.storeID, run.StepCount(), params.Named()); err != nil {
			return nil, err
		}
	}
	return res, nil
}
