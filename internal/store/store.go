// Package store persists training trajectories in SQLite.
//
// A run is stored as its configuration, a checkpoint of its initial
// parameters and one row per step holding the seeds, coefficients, weights
// and learning rate of the update. That is enough for trainer.Replay to
// rebuild the final parameters, at a few dozen bytes per step instead of a
// checkpoint per step.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/born-ml/dizo/internal/tensor"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("store: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	created REAL NOT NULL,
	config TEXT NOT NULL,
	checkpoint BLOB NOT NULL,
	initial_fingerprint TEXT NOT NULL,
	final_fingerprint TEXT,
	steps INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS steps(
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step INTEGER NOT NULL,
	seed INTEGER NOT NULL,
	loss REAL,
	epsilon REAL NOT NULL,
	lr REAL NOT NULL,
	update_norm REAL NOT NULL,
	divergence REAL NOT NULL,
	smoothed REAL NOT NULL,
	skipped INTEGER NOT NULL,
	pairs BLOB NOT NULL,
	coefficients BLOB NOT NULL,
	weights BLOB NOT NULL,
	loss_plus BLOB NOT NULL,
	loss_minus BLOB NOT NULL,
	duration_ns INTEGER NOT NULL,
	PRIMARY KEY (run_id, step)
);
CREATE TABLE IF NOT EXISTS refreshes(
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step INTEGER NOT NULL,
	layers TEXT NOT NULL,
	drift BLOB NOT NULL,
	gammas BLOB NOT NULL,
	weights BLOB NOT NULL,
	losses BLOB NOT NULL,
	skipped INTEGER NOT NULL,
	PRIMARY KEY (run_id, step)
);
`

// Store is a SQLite trajectory store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens or creates the store at path. ":memory:" keeps it in memory.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{
		db:  db,
		log: logger.With().Str("component", "store").Str("path", path).Logger(),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run describes a stored run.
type Run struct {
	ID                 int64
	Name               string
	Created            time.Time
	Config             []byte // YAML
	InitialFingerprint string
	FinalFingerprint   string // Empty until the run finishes
	Steps              int
}

// CreateRun stores a new run with its configuration and initial
// parameters, and returns its id.
func (s *Store) CreateRun(ctx context.Context, name string, config []byte, initial []tensor.Named) (int64, error) {
	var ckpt bytes.Buffer
	if err := tensor.WriteCheckpoint(&ckpt, initial); err != nil {
		return 0, fmt.Errorf("failed to encode initial parameters: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(name, created, config, checkpoint, initial_fingerprint) VALUES(?,?,?,?,?)`,
		name, float64(time.Now().UnixMilli())/1000.0, string(config), ckpt.Bytes(), Fingerprint(initial))
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to create run: %w", err)
	}
	s.log.Debug().Int64("run", id).Int("checkpoint_bytes", ckpt.Len()).Msg("run created")
	return id, nil
}

// FinishRun records the step count and the fingerprint of the final
// parameters.
func (s *Store) FinishRun(ctx context.Context, id int64, steps int, final []tensor.Named) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET final_fingerprint = ?, steps = ? WHERE id = ?`,
		Fingerprint(final), steps, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

// Run returns the run with the given id.
func (s *Store) Run(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return r, err
}

// Runs lists all runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Checkpoint returns the initial parameters of a run.
func (s *Store) Checkpoint(ctx context.Context, id int64) ([]tensor.Named, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT checkpoint FROM runs WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint of run %d: %w", id, err)
	}
	return tensor.ReadCheckpoint(bytes.NewReader(blob))
}

const runColumns = `id, name, created, config, initial_fingerprint, final_fingerprint, steps`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r       Run
		created float64
		config  string
		final   sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Name, &created, &config, &r.InitialFingerprint, &final, &r.Steps); err != nil {
		return nil, err
	}
	r.Created = time.UnixMilli(int64(created * 1000))
	r.Config = []byte(config)
	r.FinalFingerprint = final.String
	return &r, nil
}

// Fingerprint returns the hex SHA-256 fingerprint of every tensor of
// entries, in order. Runs store it for their initial and final parameters.
func Fingerprint(entries []tensor.Named) string {
	ts := make([]*tensor.Tensor, len(entries))
	for i, e := range entries {
		ts[i] = e.Tensor
	}
	fp := tensor.Fingerprint(ts)
	return hex.EncodeToString(fp[:])
}
