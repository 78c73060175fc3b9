package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/dizo/internal/metrics"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/store"
)

func runSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configFile := fs.String("config", "", "Base configuration file path")
	seeds := fs.String("seeds", "1,2,3", "Comma-separated run seeds")
	modes := fs.String("modes", "none,zo,fo", "Comma-separated projection modes")
	jobs := fs.Int("jobs", runtime.NumCPU(), "Runs trained concurrently")
	storePath := fs.String("store", "", "Override store.path")
	metricsAddr := fs.String("metrics", "", "Override metrics.addr")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	base, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *storePath != "" {
		base.Store.Path = *storePath
	}
	if *metricsAddr != "" {
		base.Metrics.Addr = *metricsAddr
	}
	seedList, err := parseSeeds(*seeds)
	if err != nil {
		return err
	}
	modeList, err := parseModes(*modes)
	if err != nil {
		return err
	}
	logger, err := setupLogger(base, *verbose)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if base.Metrics.Addr != "" {
		collector = metrics.NewCollector(nil)
		srv := serveMetrics(base.Metrics.Addr, collector, logger)
		defer srv.Shutdown() //nolint:errcheck // Best effort on exit.
	}
	var st *store.Store
	if base.Store.Path != "" {
		st, err = store.Open(base.Store.Path, logger)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	// Runs share the store and the collector; each builds its own task,
	// model and trainer.
	var (
		mu      sync.Mutex
		results []*result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*jobs, 1))
	for _, mode := range modeList {
		for _, seed := range seedList {
			cfg := *base
			cfg.Run.Seed = seed
			cfg.Run.Name = fmt.Sprintf("%s-%s-%d", base.Run.Name, mode, seed)
			cfg.Projection.Mode = mode
			if err := cfg.Validate(); err != nil {
				return err
			}
			g.Go(func() error {
				res, err := train(gctx, &cfg, logger, collector, st, nil)
				if err != nil {
					return fmt.Errorf("run %s: %w", cfg.Run.Name, err)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	renderSweep(results, modeList)
	return nil
}

func parseSeeds(s string) ([]uint64, error) {
	var seeds []uint64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", f, err)
		}
		seeds = append(seeds, v)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seeds given")
	}
	return seeds, nil
}

func parseModes(s string) ([]string, error) {
	var modes []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		m, err := projection.ParseMode(f)
		if err != nil {
			return nil, err
		}
		modes = append(modes, string(m))
	}
	if len(modes) == 0 {
		return nil, fmt.Errorf("no projection modes given")
	}
	return modes, nil
}

// renderSweep prints every run, then the mean and standard deviation of
// the final loss per projection mode.
func renderSweep(results []*result, modes []string) {
	slices.SortFunc(results, func(a, b *result) int {
		return strings.Compare(a.name, b.name)
	})

	runs := tablewriter.NewWriter(os.Stdout)
	runs.SetHeader([]string{"Run", "Mode", "Seed", "Final loss", "Refreshes", "Time", "Store ID"})
	for _, r := range results {
		id := "-"
		if r.storeID > 0 {
			id = strconv.FormatInt(r.storeID, 10)
		}
		runs.Append([]string{
			r.name, r.mode, strconv.FormatUint(r.seed, 10),
			formatLoss(r.finalLoss), strconv.Itoa(r.refreshes),
			r.took.Round(1e6).String(), id,
		})
	}
	runs.Render()

	summary := tablewriter.NewWriter(os.Stdout)
	summary.SetHeader([]string{"Mode", "Runs", "Mean loss", "Std dev"})
	for _, mode := range modes {
		var losses []float64
		for _, r := range results {
			if r.mode == mode && !math.IsNaN(r.finalLoss) {
				losses = append(losses, r.finalLoss)
			}
		}
		mean, std := math.NaN(), math.NaN()
		if len(losses) > 0 {
			mean, std = stat.MeanStdDev(losses, nil)
		}
		summary.Append([]string{mode, strconv.Itoa(len(losses)), formatLoss(mean), formatLoss(std)})
	}
	summary.Render()
}

func formatLoss(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
