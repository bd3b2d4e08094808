// Package history records pipeline runs in a SQLite ledger.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"songlake/internal/pipeline"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Fixed-width UTC layout so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNoRuns is returned by Last when nothing has been recorded.
var ErrNoRuns = errors.New("no runs recorded")

// TableRecord is one table written by a run.
type TableRecord struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Rows     int64  `json:"rows"`
	Files    int    `json:"files"`
	Bytes    int64  `json:"bytes"`
}

// Run is one recorded pipeline run.
type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Tables     []TableRecord `json:"tables"`
}

// NewRun starts a run record with a fresh id.
func NewRun(input, output string) Run {
	return Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Input:     input,
		Output:    output,
	}
}

// Complete fills in the outcome of the run. res may be nil.
func (r *Run) Complete(res *pipeline.Result, err error) {
	r.FinishedAt = time.Now().UTC()
	r.Status = StatusSucceeded
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	}
	if res == nil {
		return
	}
	for _, t := range res.Tables() {
		r.Tables = append(r.Tables, TableRecord{
			Name:     t.Name,
			Location: t.Location,
			Rows:     t.Rows,
			Files:    t.Files,
			Bytes:    t.Bytes,
		})
	}
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// One connection keeps ":memory:" ledgers coherent and serializes writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init history schema: %w", err)
	}
	return s, nil
}

// Close closes the ledger.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			input TEXT NOT NULL,
			output TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
		CREATE TABLE IF NOT EXISTS run_tables (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			location TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			file_count INTEGER NOT NULL,
			byte_count INTEGER NOT NULL,
			PRIMARY KEY (run_id, name)
		);
	`)
	return err
}

// Record stores a finished run and its tables.
func (s *Store) Record(ctx context.Context, r Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, error, input, output)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Status, errText, r.Input, r.Output)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}

	for _, t := range r.Tables {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_tables (run_id, name, location, row_count, file_count, byte_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, t.Name, t.Location, t.Rows, t.Files, t.Bytes)
		if err != nil {
			return fmt.Errorf("inserting table %s for run %s: %w", t.Name, r.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, error, input, output
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt string
		var errText sql.NullString

		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Status, &errText, &r.Input, &r.Output); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", r.ID, err)
		}
		r.Error = errText.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Tables, err = s.tables(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Last returns the most recent run.
func (s *Store) Last(ctx context.Context) (Run, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

func (s *Store) tables(ctx context.Context, runID string) ([]TableRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, location, row_count, file_count, byte_count
		FROM run_tables WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableRecord
	for rows.Next() {
		var t TableRecord
		if err := rows.Scan(&t.Name, &t.Location, &t.Rows, &t.Files, &t.Bytes); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
