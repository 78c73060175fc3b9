package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/born-ml/dizo/internal/projection"
	"github.com/born-ml/dizo/internal/trainer"
	"github.com/born-ml/dizo/internal/zo"
)

// Recorder returns a trainer.Sink that appends every step of run id.
func (s *Store) Recorder(id int64) trainer.Sink {
	return trainer.SinkFunc(func(ctx context.Context, rec *trainer.StepRecord) error {
		return s.AppendStep(ctx, id, rec)
	})
}

// AppendStep stores one step record, and its refresh if it has one, in a
// single transaction.
func (s *Store) AppendStep(ctx context.Context, id int64, rec *trainer.StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin step %d: %w", rec.Step, err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after Commit.

	var loss sql.NullFloat64
	if !math.IsNaN(rec.Loss) && !math.IsInf(rec.Loss, 0) {
		loss = sql.NullFloat64{Float64: rec.Loss, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO steps(
		run_id, step, seed, loss, epsilon, lr, update_norm, divergence, smoothed, skipped,
		pairs, coefficients, weights, loss_plus, loss_minus, duration_ns
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, rec.Step, int64(rec.Seed), loss, rec.Epsilon, rec.LR, rec.UpdateNorm, //nolint:gosec // G115: stored as its bit pattern.
		rec.Divergence, rec.Smoothed, rec.Skipped,
		encodePairs(rec.Pairs), encodeFloats(rec.Coefficients), encodeFloats(rec.Weights),
		encodeFloats(rec.LossPlus), encodeFloats(rec.LossMinus), rec.Duration.Nanoseconds())
	if err != nil {
		return fmt.Errorf("failed to store step %d of run %d: %w", rec.Step, id, err)
	}

	if res := rec.Refresh; res != nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO refreshes(
			run_id, step, layers, drift, gammas, weights, losses, skipped
		) VALUES(?,?,?,?,?,?,?,?)`,
			id, rec.Step, strings.Join(res.Layers, "\n"), encodeFloats(res.Drift), encodeFloats(res.Gammas),
			encodeFloats(res.Weights), encodeFloats(res.Losses), res.Skipped)
		if err != nil {
			return fmt.Errorf("failed to store refresh at step %d of run %d: %w", rec.Step, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step %d: %w", rec.Step, err)
	}
	return nil
}

// Steps returns the step records of a run in step order.
func (s *Store) Steps(ctx context.Context, id int64) ([]*trainer.StepRecord, error) {
	refreshes, err := s.refreshes(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT
		step, seed, loss, epsilon, lr, update_norm, divergence, smoothed, skipped,
		pairs, coefficients, weights, loss_plus, loss_minus, duration_ns
	FROM steps WHERE run_id = ? ORDER BY step`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of run %d: %w", id, err)
	}
	defer rows.Close()

	var records []*trainer.StepRecord
	for rows.Next() {
		var (
			rec                                  trainer.StepRecord
			seed, dur                            int64
			loss                                 sql.NullFloat64
			pairs, coefs, weights, lplus, lminus []byte
		)
		if err := rows.Scan(&rec.Step, &seed, &loss, &rec.Epsilon, &rec.LR, &rec.UpdateNorm,
			&rec.Divergence, &rec.Smoothed, &rec.Skipped,
			&pairs, &coefs, &weights, &lplus, &lminus, &dur); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Seed = uint64(seed) //nolint:gosec // G115: bit pattern written by AppendStep.
		rec.Loss = math.NaN()
		if loss.Valid {
			rec.Loss = loss.Float64
		}
		rec.Duration = time.Duration(dur)
		if rec.Pairs, err = decodePairs(pairs); err != nil {
			return nil, fmt.Errorf("step %d: %w", rec.Step, err)
		}
		for _, f := range []struct {
			dst  *[]float64
			blob []byte
		}{
			{&rec.Coefficients, coefs},
			{&rec.Weights, weights},
			{&rec.LossPlus, lplus},
			{&rec.LossMinus, lminus},
		} {
			if *f.dst, err = decodeFloats(f.blob); err != nil {
				return nil, fmt.Errorf("step %d: %w", rec.Step, err)
			}
		}
		rec.Refresh = refreshes[rec.Step]
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *Store) refreshes(ctx context.Context, id int64) (map[int]*projection.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step, layers, drift, gammas, weights, losses, skipped
		FROM refreshes WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load refreshes of run %d: %w", id, err)
	}
	defer rows.Close()

	out := make(map[int]*projection.Result)
	for rows.Next() {
		var (
			step                           int
			layers                         string
			drift, gammas, weights, losses []byte
			res                            projection.Result
		)
		if err := rows.Scan(&step, &layers, &drift, &gammas, &weights, &losses, &res.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan refresh: %w", err)
		}
		if layers != "" {
			res.Layers = strings.Split(layers, "\n")
		}
		for _, f := range []struct {
			dst  *[]float64
			blob []byte
		}{
			{&res.Drift, drift},
			{&res.Gammas, gammas},
			{&res.Weights, weights},
			{&res.Losses, losses},
		} {
			if *f.dst, err = decodeFloats(f.blob); err != nil {
				return nil, fmt.Errorf("refresh at step %d: %w", step, err)
			}
		}
		out[step] = &res
	}
	return out, rows.Err()
}

// Floats and pairs are stored as little-endian bit patterns, so NaN and
// every other value survive exactly.

func encodeFloats(vs []float64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("float blob of %d bytes", len(buf))
	}
	vs := make([]float64, len(buf)/8)
	for i := range vs {
		vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return vs, nil
}

func encodePairs(ps []zo.Pair) []byte {
	buf := make([]byte, 16*len(ps))
	for i, p := range ps {
		binary.LittleEndian.PutUint64(buf[16*i:], p.Seed)
		binary.LittleEndian.PutUint64(buf[16*i+8:], math.Float64bits(p.Coefficient))
	}
	return buf
}

func decodePairs(buf []byte) ([]zo.Pair, error) {
	if len(buf)%16 != 0 {
		return nil, fmt.Errorf("pair blob of %d bytes", len(buf))
	}
	ps := make([]zo.Pair, len(buf)/16)
	for i := range ps {
		ps[i] = zo.Pair{
			Seed:        binary.LittleEndian.Uint64(buf[16*i:]),
			Coefficient: math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i+8:])),
		}
	}
	return ps, nil
}
