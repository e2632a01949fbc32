// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history persists the outcome of executions started through the
// HTTP surface.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/persistence/sqlite"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("execution not found")

// State is the lifecycle state of a recorded execution.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one execution row.
type Record struct {
	ID        int64      `json:"id"`
	Commands  []string   `json:"commands"`
	Tool      string     `json:"tool"`
	Status    *int       `json:"status,omitempty"`
	State     State      `json:"state"`
	Error     string     `json:"error,omitempty"`
	Code      string     `json:"code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY,
		commands TEXT NOT NULL,
		tool TEXT NOT NULL,
		status INTEGER,
		state TEXT NOT NULL CHECK(state IN ('running', 'succeeded', 'failed', 'cancelled')),
		error TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
	CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Start records a running execution. Execution ids restart with the
// process, so a reused id replaces the older row.
func (s *Store) Start(ctx context.Context, id int64, commands []string) error {
	raw, err := json.Marshal(commands)
	if err != nil {
		return fmt.Errorf("history: encode commands: %w", err)
	}
	tool := ""
	if len(commands) > 0 {
		tool = commands[0]
	}
	query := `
	INSERT INTO executions (id, commands, tool, status, state, error, code, started_at, ended_at)
	VALUES (?, ?, ?, NULL, 'running', '', '', ?, NULL)
	ON CONFLICT(id) DO UPDATE SET
		commands = excluded.commands,
		tool = excluded.tool,
		status = NULL,
		state = 'running',
		error = '',
		code = '',
		started_at = excluded.started_at,
		ended_at = NULL
	`
	if _, err := s.db.ExecContext(ctx, query, id, string(raw), tool, formatTime(s.now())); err != nil {
		return fmt.Errorf("history: start %d: %w", id, err)
	}
	return nil
}

// Finish records the outcome of execution id from its Execute result.
func (s *Store) Finish(ctx context.Context, id int64, result error) error {
	state := StateFor(result)
	status := 0
	errMsg := ""
	code := ""
	if result != nil {
		errMsg = result.Error()
		code = string(ffmpeg.CodeOf(result))
		var fe *ffmpeg.Error
		if errors.As(result, &fe) {
			status = fe.Status
		}
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE executions SET status = ?, state = ?, error = ?, code = ?, ended_at = ?
	WHERE id = ?`, status, string(state), errMsg, code, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("history: finish %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: finish %d: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns the record of execution id.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, commands, tool, status, state, error, code, started_at, ended_at
	FROM executions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %d: %w", id, err)
	}
	return rec, nil
}

// List returns the most recent executions first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, commands, tool, status, state, error, code, started_at, ended_at
	FROM executions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AbandonRunning marks rows left running by a previous process as
// cancelled and returns how many were changed.
func (s *Store) AbandonRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE executions SET state = 'cancelled', error = 'process restarted', code = ?, ended_at = ?
	WHERE state = 'running'`, string(ffmpeg.CodeCancelled), formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("history: abandon running: %w", err)
	}
	return res.RowsAffected()
}

// StateFor maps an Execute result to its recorded state.
func StateFor(err error) State {
	if err == nil {
		return StateSucceeded
	}
	if ffmpeg.CodeOf(err) == ffmpeg.CodeCancelled {
		return StateCancelled
	}
	return StateFailed
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		rec      Record
		commands string
		state    string
		status   sql.NullInt64
		started  string
		ended    sql.NullString
	)
	if err := sc.Scan(&rec.ID, &commands, &rec.Tool, &status, &state, &rec.Error, &rec.Code, &started, &ended); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(commands), &rec.Commands); err != nil {
		return nil, fmt.Errorf("decode commands of %d: %w", rec.ID, err)
	}
	rec.State = State(state)
	if status.Valid {
		v := int(status.Int64)
		rec.Status = &v
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at of %d: %w", rec.ID, err)
	}
	rec.StartedAt = t
	if ended.Valid {
		t, err := time.Parse(timeLayout, ended.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at of %d: %w", rec.ID, err)
		}
		rec.EndedAt = &t
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
