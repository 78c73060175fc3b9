package trainer

import (
	"context"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/born-ml/dizo/internal/nn"
	"github.com/born-ml/dizo/internal/optim"
	"github.com/born-ml/dizo/internal/parallel"
	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/zo"
)

// Replay rebuilds the parameters a run reached from the parameters it
// started with and its step records, without evaluating the model.
//
// params must hold the initial values of the run, and records must be the
// run's records from step 0 in order. Only SGD, Projection and Parallel of
// cfg are used; the learning rate of every step comes from its record.
// Because updates and projection commits are exact, the result is
// bit-identical to the trained parameters.
func Replay(ctx context.Context, params *nn.ParameterSet, records []*StepRecord, cfg Config) error {
	if cfg.Parallel == (parallel.Config{}) {
		cfg.Parallel = parallel.DefaultConfig()
	}
	if cfg.SGD.Parallel == (parallel.Config{}) {
		cfg.SGD.Parallel = cfg.Parallel
	}
	if err := params.Snap(); err != nil {
		return pkgerrors.WithStack(err)
	}
	projector, err := projection.New(params, cfg.Projection)
	if err != nil {
		return err
	}
	sgd := optim.NewSGD(cfg.SGD)
	trainable := params.Trainable()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Step != i {
			return fmt.Errorf("replay: record %d holds step %d", i, rec.Step)
		}
		if rec.Refresh != nil {
			if err := projector.Commit(rec.Refresh.Gammas); err != nil {
				return fmt.Errorf("replay: step %d: %w", rec.Step, err)
			}
		}
		dir := zo.Direction{
			Estimate:     &zo.Estimate{Pairs: rec.Pairs, Epsilon: rec.Epsilon},
			Coefficients: rec.Coefficients,
			Weights:      rec.Weights,
		}
		if len(dir.Coefficients) != len(rec.Pairs) {
			return fmt.Errorf("replay: step %d has %d coefficients for %d directions",
				rec.Step, len(dir.Coefficients), len(rec.Pairs))
		}
		if _, err := sgd.Step(trainable, dir, rec.LR); err != nil {
			return pkgerrors.Wrapf(err, "replay: step %d", rec.Step)
		}
	}
	return nil
}
