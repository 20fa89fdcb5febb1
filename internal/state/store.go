// Package state manages the SQLite database that records sync history, the
// daemon's last reported status and the recycle audit log.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at   TEXT    NOT NULL,
    finished_at  TEXT    NOT NULL DEFAULT '',
    uploaded     INTEGER NOT NULL DEFAULT 0,
    downloaded   INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    outcome      TEXT    NOT NULL DEFAULT '',
    message      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles (started_at);

CREATE TABLE IF NOT EXISTS status (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    message     TEXT    NOT NULL DEFAULT '',
    summary     TEXT    NOT NULL DEFAULT '',
    in_progress INTEGER NOT NULL DEFAULT 0,
    error_state INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS recycled (
    unique_key  TEXT PRIMARY KEY,
    album       TEXT NOT NULL DEFAULT '',
    filename    TEXT NOT NULL DEFAULT '',
    recycled_at TEXT NOT NULL DEFAULT ''
);
`

// Cycle outcomes recorded in the cycles table.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeAborted   = "aborted"
	OutcomeAuth      = "auth_expired"
	OutcomeNetwork   = "network_unavailable"
	OutcomeFailed    = "failed"
)

// Cycle is one row of sync history.
type Cycle struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Uploaded   int
	Downloaded int
	Failed     int
	Outcome    string
	Message    string
}

// Status is the last status snapshot published by the sync worker.
type Status struct {
	Message    string
	Summary    string
	InProgress bool
	ErrorState bool
	UpdatedAt  time.Time
}

// RecycledPhoto is one entry in the recycle audit log.
type RecycledPhoto struct {
	UniqueKey  string
	Album      string
	Filename   string
	RecycledAt time.Time
}

// Store is the SQLite-backed state repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// $XDG_DATA_HOME/picasync/state.db
func DefaultDBPath() (string, error) {
	path, err := xdg.DataFile(filepath.Join("picasync", "state.db"))
	if err != nil {
		return "", fmt.Errorf("resolving state DB path: %w", err)
	}
	return path, nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode so the status command can read while the daemon writes.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- cycles ------------------------------------------------------------------

// RecordCycle appends a finished cycle to the history and sets c.ID.
func (s *Store) RecordCycle(ctx context.Context, c *Cycle) error {
	const q = `
		INSERT INTO cycles
		    (started_at, finished_at, uploaded, downloaded, failed, outcome, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		formatTime(c.StartedAt),
		formatTime(c.FinishedAt),
		c.Uploaded,
		c.Downloaded,
		c.Failed,
		c.Outcome,
		c.Message,
	)
	if err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]*Cycle, error) {
	const q = `
		SELECT id, started_at, finished_at, uploaded, downloaded, failed, outcome, message
		FROM cycles ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cycles []*Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// --- status ------------------------------------------------------------------

// SaveStatus replaces the single status row.
func (s *Store) SaveStatus(ctx context.Context, st *Status) error {
	const q = `
		INSERT INTO status (id, message, summary, in_progress, error_state, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    message     = excluded.message,
		    summary     = excluded.summary,
		    in_progress = excluded.in_progress,
		    error_state = excluded.error_state,
		    updated_at  = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		st.Message,
		st.Summary,
		st.InProgress,
		st.ErrorState,
		formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving status: %w", err)
	}
	return nil
}

// LoadStatus returns the last saved status, or (nil, nil) if none was saved.
func (s *Store) LoadStatus(ctx context.Context) (*Status, error) {
	const q = `SELECT message, summary, in_progress, error_state, updated_at FROM status WHERE id = 1`

	var st Status
	var updated string
	err := s.db.QueryRowContext(ctx, q).Scan(&st.Message, &st.Summary, &st.InProgress, &st.ErrorState, &updated)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading status: %w", err)
	}
	st.UpdatedAt, _ = parseTime(updated)
	return &st, nil
}

// --- recycled ----------------------------------------------------------------

// RecordRecycled adds a photo to the recycle audit log. Recording the same
// unique key twice keeps the first entry.
func (s *Store) RecordRecycled(ctx context.Context, p *RecycledPhoto) error {
	const q = `
		INSERT INTO recycled (unique_key, album, filename, recycled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(unique_key) DO NOTHING`

	_, err := s.db.ExecContext(ctx, q, p.UniqueKey, p.Album, p.Filename, formatTime(p.RecycledAt))
	if err != nil {
		return fmt.Errorf("recording recycled photo %q: %w", p.Filename, err)
	}
	return nil
}

// CountRecycled returns the number of photos in the recycle audit log.
func (s *Store) CountRecycled(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recycled`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recycled photos: %w", err)
	}
	return count, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanCycle can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (*Cycle, error) {
	var c Cycle
	var started, finished string

	err := s.Scan(
		&c.ID,
		&started,
		&finished,
		&c.Uploaded,
		&c.Downloaded,
		&c.Failed,
		&c.Outcome,
		&c.Message,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning cycle row: %w", err)
	}

	c.StartedAt, _ = parseTime(started)
	c.FinishedAt, _ = parseTime(finished)

	return &c, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
