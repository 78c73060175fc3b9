package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/born-ml/dizo/internal/config"
	"github.com/born-ml/dizo/internal/store"
	"github.com/born-ml/dizo/internal/task"
	"github.com/born-ml/dizo/internal/trainer"
)

// errFingerprintMismatch is returned when a replay does not reproduce the
// stored final parameters.
var errFingerprintMismatch = errors.New("replayed parameters differ from the stored run")

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	storePath := fs.String("store", "dizo.db", "Trajectory store path")
	id := fs.Int64("run", 0, "Run id (default: the latest run)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := setupLogger(config.Defaults(), *verbose)
	if err != nil {
		return err
	}

	st, err := store.Open(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if *id == 0 {
		runs, err := st.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("store %s has no runs", *storePath)
		}
		*id = runs[len(runs)-1].ID
	}
	run, err := st.Run(ctx, *id)
	if err != nil {
		return err
	}
	if run.FinalFingerprint == "" {
		return fmt.Errorf("run %d did not finish", run.ID)
	}

	cfg, err := config.Parse(run.Config)
	if err != nil {
		return fmt.Errorf("stored config of run %d: %w", run.ID, err)
	}
	tk, err := task.Build(cfg.TaskConfig())
	if err != nil {
		return err
	}
	tcfg, err := cfg.Trainer(logger)
	if err != nil {
		return err
	}
	initial, err := st.Checkpoint(ctx, run.ID)
	if err != nil {
		return err
	}
	params := tk.Model.Parameters()
	if err := params.Load(initial); err != nil {
		return err
	}
	records, err := st.Steps(ctx, run.ID)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := trainer.Replay(ctx, params, records, tcfg); err != nil {
		return err
	}
	got := store.Fingerprint(params.Named())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Name", "Steps", "Stored fingerprint", "Replayed fingerprint", "Time"})
	table.Append([]string{
		strconv.FormatInt(run.ID, 10), run.Name, strconv.Itoa(len(records)),
		run.FinalFingerprint[:16], got[:16], time.Since(start).Round(time.Millisecond).String(),
	})
	table.Render()

	if got != run.FinalFingerprint {
		return fmt.Errorf("run %d: %w", run.ID, errFingerprintMismatch)
	}
	logger.Info().Int64("run", run.ID).Msg("replay reproduced the final parameters")
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	storePath := fs.String("store", "dizo.db", "Trajectory store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger, err := setupLogger(config.Defaults(), false)
	if err != nil {
		return err
	}
	st, err := store.Open(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Created", "Steps", "Finished"})
	for _, r := range runs {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10), r.Name, r.Created.Format(time.RFC3339),
			strconv.Itoa(r.Steps), strconv.FormatBool(r.FinalFingerprint != ""),
		})
	}
	table.Render()
	return nil
}
