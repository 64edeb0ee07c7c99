package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andresmejia3/outfit360/internal/pipeline"
)

var ErrRunNotFound = errors.New("run not found")

// conn is the subset of *pgx.Conn the store uses, so tests can swap in pgxmock.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Store is the run ledger: one row per sanitize batch and one per frame
// that failed or lost an effect.
type Store struct {
	conn conn
}

// Run is a ledger row.
type Run struct {
	ID             string
	InputDir       string
	OutputDir      string
	BlurFace       bool
	BlurBackground bool
	Total          int
	Succeeded      int
	Degraded       int
	Failed         int
	Status         string
	Duration       time.Duration
	StartedAt      time.Time
}

// Issue is a recorded frame problem. Degraded issues were written without
// one of their effects; the others were not written at all.
type Issue struct {
	Frame    string
	Kind     string
	Reason   string
	Degraded bool
}

const statusRunning = "running"

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	c, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return newWithConn(ctx, c)
}

func newWithConn(ctx context.Context, c conn) (*Store, error) {
	if err := initSchema(ctx, c); err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{conn: c}, nil
}

// initSchema creates the ledger tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, c conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sanitize_runs (
			id TEXT PRIMARY KEY,
			input_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			blur_face BOOLEAN NOT NULL,
			blur_background BOOLEAN NOT NULL,
			total INT NOT NULL DEFAULT 0,
			succeeded INT NOT NULL DEFAULT 0,
			degraded INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'running',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS frame_issues (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES sanitize_runs(id) ON DELETE CASCADE,
			frame TEXT NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT NOT NULL,
			degraded BOOLEAN NOT NULL
		);
		CREATE INDEX IF NOT EXISTS frame_issues_run_id_idx ON frame_issues (run_id);
	`
	_, err := c.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartRun registers a batch before its frames are processed. Re-running an
// id starts it over.
func (s *Store) StartRun(ctx context.Context, run pipeline.RunInfo) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sanitize_runs (id, input_dir, output_dir, blur_face, blur_background, total, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total = EXCLUDED.total, status = EXCLUDED.status, started_at = NOW(), finished_at = NULL
	`, run.ID, run.InputDir, run.OutputDir, run.BlurFace, run.BlurBackground, run.Total, statusRunning)
	return err
}

// FinishRun stores the outcome and the frame issues of a batch in one
// transaction. Issues from an earlier attempt of the same run are replaced.
func (s *Store) FinishRun(ctx context.Context, res *pipeline.BatchResult, status string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}

	if err := finish(ctx, tx, res, status); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func finish(ctx context.Context, tx pgx.Tx, res *pipeline.BatchResult, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE sanitize_runs
		SET total = $2, succeeded = $3, degraded = $4, failed = $5, status = $6, duration_ms = $7, finished_at = NOW()
		WHERE id = $1
	`, res.RunID, res.Total, res.Succeeded, len(res.Degraded), len(res.Failures), status, res.Duration.Milliseconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", res.RunID, ErrRunNotFound)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM frame_issues WHERE run_id = $1", res.RunID); err != nil {
		return err
	}
	insert := func(issues []pipeline.FrameIssue, degraded bool) error {
		for _, is := range issues {
			_, err := tx.Exec(ctx, `
				INSERT INTO frame_issues (run_id, frame, kind, reason, degraded)
				VALUES ($1, $2, $3, $4, $5)
			`, res.RunID, is.Frame, is.Kind, is.Reason, degraded)
			if err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(res.Failures, false); err != nil {
		return err
	}
	return insert(res.Degraded, true)
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, input_dir, output_dir, blur_face, blur_background,
			total, succeeded, degraded, failed, status, duration_ms, started_at
		FROM sanitize_runs
		ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ms int64
		if err := rows.Scan(&r.ID, &r.InputDir, &r.OutputDir, &r.BlurFace, &r.BlurBackground,
			&r.Total, &r.Succeeded, &r.Degraded, &r.Failed, &r.Status, &ms, &r.StartedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunIssues lists the recorded frame issues of a run, failures first.
func (s *Store) RunIssues(ctx context.Context, runID string) ([]Issue, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM sanitize_runs WHERE id = $1)", runID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT frame, kind, reason, degraded
		FROM frame_issues
		WHERE run_id = $1
		ORDER BY degraded, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var is Issue
		if err := rows.Scan(&is.Frame, &is.Kind, &is.Reason, &is.Degraded); err != nil {
			return nil, err
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_issues CASCADE;
		DROP TABLE IF EXISTS sanitize_runs CASCADE;
	`)
	return err
}
