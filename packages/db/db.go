// Package db stores run history in a local SQLite database, letting the CLI
// list past runs and re-open their reports.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	files      INTEGER NOT NULL,
	passed     INTEGER NOT NULL,
	failed     INTEGER NOT NULL,
	skipped    INTEGER NOT NULL,
	todo       INTEGER NOT NULL,
	exit_code  INTEGER NOT NULL,
	report     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at DESC);
`

// Store is a run-history database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRecord is one recorded suite run.
type RunRecord struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Files     int
	Passed    int
	Failed    int
	Skipped   int
	Todo      int
	ExitCode  int
	Report    string // JSON report document
}

// RecordRun inserts rec, assigning an ID when absent.
func (s *Store) RecordRun(rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, duration_us, files, passed, failed, skipped, todo, exit_code, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixMicro(), rec.Duration.Microseconds(),
		rec.Files, rec.Passed, rec.Failed, rec.Skipped, rec.Todo,
		rec.ExitCode, rec.Report,
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without their report
// bodies.
func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, duration_us, files, passed, failed, skipped, todo, exit_code
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, durUS int64
		if err := rows.Scan(
			&rec.ID, &started, &durUS, &rec.Files,
			&rec.Passed, &rec.Failed, &rec.Skipped, &rec.Todo, &rec.ExitCode,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		rec.StartedAt = time.UnixMicro(started)
		rec.Duration = time.Duration(durUS) * time.Microsecond
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// GetRun returns the n-th most recent run (1 = latest), report included.
func (s *Store) GetRun(n int) (*RunRecord, error) {
	if n < 1 {
		return nil, fmt.Errorf("run index must be positive, got %d", n)
	}
	row := s.db.QueryRow(
		`SELECT id, started_at, duration_us, files, passed, failed, skipped, todo, exit_code, report
		 FROM runs ORDER BY started_at DESC, id LIMIT 1 OFFSET ?`, n-1)

	var rec RunRecord
	var started, durUS int64
	err := row.Scan(
		&rec.ID, &started, &durUS, &rec.Files,
		&rec.Passed, &rec.Failed, &rec.Skipped, &rec.Todo, &rec.ExitCode, &rec.Report,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no run at index %d", n)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run row: %w", err)
	}
	rec.StartedAt = time.UnixMicro(started)
	rec.Duration = time.Duration(durUS) * time.Microsecond
	return &rec, nil
}
