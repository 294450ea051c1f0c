// Package history keeps a local ledger of every file a batch attempted,
// so past runs can be inspected after the console output is gone.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record captures the terminal result of one file's run.
type Record struct {
	BatchID     string
	File        string
	Name        string
	State       string
	FailureKind string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Recorder persists run records. The batch runner depends only on this
// interface so history can be disabled without special cases.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Nop discards records.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Record) error { return nil }

// Store is a SQLite-backed Recorder.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  batch_id TEXT NOT NULL,
  file TEXT NOT NULL,
  name TEXT NOT NULL,
  state TEXT NOT NULL,
  failure_kind TEXT,
  error_message TEXT,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_batch_id ON runs (batch_id);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record implements Recorder.
func (s *Store) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (batch_id, file, name, state, failure_kind, error_message, started_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID,
		rec.File,
		rec.Name,
		rec.State,
		rec.FailureKind,
		rec.Error,
		rec.StartedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
	)
	return err
}

// ListBatch returns every record of one batch in insertion order.
func (s *Store) ListBatch(ctx context.Context, batchID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, file, name, state, failure_kind, error_message, started_at, finished_at
       FROM runs WHERE batch_id = ? ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var failureKind, errorMsg sql.NullString
		var startedMs, finishedMs int64
		if err := rows.Scan(&rec.BatchID, &rec.File, &rec.Name, &rec.State, &failureKind, &errorMsg, &startedMs, &finishedMs); err != nil {
			return nil, err
		}
		rec.FailureKind = failureKind.String
		rec.Error = errorMsg.String
		rec.StartedAt = time.UnixMilli(startedMs)
		rec.FinishedAt = time.UnixMilli(finishedMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BatchSummary counts one batch's records by terminal state.
func (s *Store) BatchSummary(ctx context.Context, batchID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM runs WHERE batch_id = ? GROUP BY state`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		summary[state] = count
	}
	return summary, rows.Err()
}
