// Package runlog tracks the lifecycle of reconciliation runs: one RunRecord
// per invocation with a Running → Succeeded|Failed state machine, an
// append-only RunEvent trail, and the change-log checkpoint versions that
// make incremental resumption safe. Transitions are guarded in SQL so a run
// leaves Running exactly once; a failed run never advances the cursor.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Tracker records run lifecycle and checkpoint versions.
type Tracker interface {
	// Start creates a Running run for the task, capturing the sources'
	// change-log version as the resumption cursor.
	Start(ctx context.Context, taskCode string, versionStart int64) (*types.RunRecord, error)

	// Heartbeat appends a RunEvent without altering run state.
	Heartbeat(ctx context.Context, runID string, level types.EventLevel, message string) error

	// Finish transitions the run to Succeeded and records the version at
	// exit; the next run processes only records changed since versionEnd.
	Finish(ctx context.Context, runID string, rowsRead, rowsWritten, versionEnd int64, note string) error

	// Fail transitions the run to Failed with the error text captured
	// verbatim. The checkpoint stays at versionStart: partial writes must
	// not silently advance the cursor past unprocessed data.
	Fail(ctx context.Context, runID string, runErr error, note string) error

	// Get returns a run by id.
	Get(ctx context.Context, runID string) (*types.RunRecord, error)

	// Events returns the run's event trail in append order.
	Events(ctx context.Context, runID string) ([]types.RunEvent, error)

	// RecentRuns returns the task's most recent runs, newest first.
	RecentRuns(ctx context.Context, taskCode string, limit int) ([]types.RunRecord, error)

	// LastCheckpoint returns the versionEnd of the task's most recent
	// succeeded run, or 0 when none exists.
	LastCheckpoint(ctx context.Context, taskCode string) (int64, error)

	// StaleRunning returns runs still marked Running that started before
	// the cutoff, an operator alert signal, not a panic condition.
	StaleRunning(ctx context.Context, olderThan time.Time) ([]types.RunRecord, error)

	// Close closes the tracker.
	Close() error
}

// SQLiteTracker implements Tracker using SQLite.
type SQLiteTracker struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; transitions are additionally guarded in SQL
}

// NewSQLiteTracker opens (or creates) the run log at dbPath.
func NewSQLiteTracker(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &SQLiteTracker{db: db}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: failed to initialize schema: %w", err)
	}
	return t, nil
}

func (t *SQLiteTracker) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		task_code     TEXT NOT NULL,
		status        TEXT NOT NULL,
		started_at    INTEGER NOT NULL,
		finished_at   INTEGER,
		version_start INTEGER NOT NULL,
		version_end   INTEGER NOT NULL,
		rows_read     INTEGER NOT NULL DEFAULT 0,
		rows_written  INTEGER NOT NULL DEFAULT 0,
		note          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_code, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS run_events (
		seq      INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id   TEXT NOT NULL,
		ts       INTEGER NOT NULL,
		level    TEXT NOT NULL,
		message  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Start creates a new Running run.
func (t *SQLiteTracker) Start(ctx context.Context, taskCode string, versionStart int64) (*types.RunRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run := &types.RunRecord{
		ID:           uuid.NewString(),
		TaskCode:     taskCode,
		Status:       types.RunRunning,
		StartedAt:    time.Now().UTC(),
		VersionStart: versionStart,
		VersionEnd:   versionStart,
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_code, status, started_at, version_start, version_end)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.TaskCode, string(run.Status), run.StartedAt.UnixMilli(),
		run.VersionStart, run.VersionEnd)
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to start run: %w", err)
	}
	return run, nil
}

// Heartbeat appends a RunEvent.
func (t *SQLiteTracker) Heartbeat(ctx context.Context, runID string, level types.EventLevel, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.ExecContext(ctx,
		"INSERT INTO run_events (run_id, ts, level, message) VALUES (?, ?, ?, ?)",
		runID, time.Now().UnixMilli(), string(level), message)
	if err != nil {
		return fmt.Errorf("runlog: failed to append event: %w", err)
	}
	return nil
}

// Finish transitions the run to Succeeded. The guarded UPDATE enforces the
// single transition out of Running.
func (t *SQLiteTracker) Finish(ctx context.Context, runID string, rowsRead, rowsWritten, versionEnd int64, note string) error {
	return t.terminate(ctx, runID, types.RunSucceeded, rowsRead, rowsWritten, &versionEnd, note)
}

// Fail transitions the run to Failed with the error text preserved
// verbatim. versionEnd is left at versionStart.
func (t *SQLiteTracker) Fail(ctx context.Context, runID string, runErr error, note string) error {
	msg := note
	if runErr != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", note, runErr)
		} else {
			msg = runErr.Error()
		}
	}
	return t.terminate(ctx, runID, types.RunFailed, 0, 0, nil, msg)
}

func (t *SQLiteTracker) terminate(ctx context.Context, runID string, status types.RunStatus, rowsRead, rowsWritten int64, versionEnd *int64, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	query := `
		UPDATE runs SET
			status = ?, finished_at = ?, rows_read = ?, rows_written = ?, note = ?`
	args := []interface{}{string(status), time.Now().UnixMilli(), rowsRead, rowsWritten, note}
	if versionEnd != nil {
		query += ", version_end = ?"
		args = append(args, *versionEnd)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, runID, string(types.RunRunning))

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("runlog: failed to terminate run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("runlog: failed to check transition for %s: %w", runID, err)
	}
	if affected == 0 {
		// Either the run doesn't exist or it already left Running.
		if _, getErr := t.getLocked(ctx, runID); getErr != nil {
			return errors.NewRunError(errors.CodeRunNotFound,
				fmt.Sprintf("run %s not found", runID))
		}
		return errors.NewRunError(errors.CodeInvalidTransition,
			fmt.Sprintf("run %s is not running; status transitions happen exactly once", runID))
	}
	return nil
}

// Get returns a run by id.
func (t *SQLiteTracker) Get(ctx context.Context, runID string) (*types.RunRecord, error) {
	return t.getLocked(ctx, runID)
}

func (t *SQLiteTracker) getLocked(ctx context.Context, runID string) (*types.RunRecord, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, task_code, status, started_at, finished_at,
		       version_start, version_end, rows_read, rows_written, COALESCE(note, '')
		FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*types.RunRecord, error) {
	var r types.RunRecord
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(&r.ID, &r.TaskCode, &status, &startedAt, &finishedAt,
		&r.VersionStart, &r.VersionEnd, &r.RowsRead, &r.RowsWritten, &r.Note); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewRunError(errors.CodeRunNotFound, "run not found")
		}
		return nil, fmt.Errorf("runlog: failed to scan run: %w", err)
	}
	r.Status = types.RunStatus(status)
	r.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		ft := time.UnixMilli(finishedAt.Int64).UTC()
		r.FinishedAt = &ft
	}
	return &r, nil
}

// Events returns the run's event trail in append order.
func (t *SQLiteTracker) Events(ctx context.Context, runID string) ([]types.RunEvent, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, seq, ts, level, message
		FROM run_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("runlog: events query failed: %w", err)
	}
	defer rows.Close()

	var out []types.RunEvent
	for rows.Next() {
		var e types.RunEvent
		var ts int64
		var level string
		if err := rows.Scan(&e.RunID, &e.Seq, &ts, &level, &e.Message); err != nil {
			return nil, fmt.Errorf("runlog: failed to scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Level = types.EventLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentRuns returns the task's most recent runs, newest first.
func (t *SQLiteTracker) RecentRuns(ctx context.Context, taskCode string, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, task_code, status, started_at, finished_at,
		       version_start, version_end, rows_read, rows_written, COALESCE(note, '')
		FROM runs WHERE task_code = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, taskCode, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: recent runs query failed: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// LastCheckpoint returns the latest succeeded run's versionEnd.
func (t *SQLiteTracker) LastCheckpoint(ctx context.Context, taskCode string) (int64, error) {
	var v int64
	err := t.db.QueryRowContext(ctx, `
		SELECT version_end FROM runs
		WHERE task_code = ? AND status = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`,
		taskCode, string(types.RunSucceeded)).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("runlog: checkpoint query failed: %w", err)
	}
	return v, nil
}

// StaleRunning returns Running runs that started before the cutoff.
func (t *SQLiteTracker) StaleRunning(ctx context.Context, olderThan time.Time) ([]types.RunRecord, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, task_code, status, started_at, finished_at,
		       version_start, version_end, rows_read, rows_written, COALESCE(note, '')
		FROM runs WHERE status = ? AND started_at < ?
		ORDER BY started_at`, string(types.RunRunning), olderThan.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("runlog: stale runs query failed: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]types.RunRecord, error) {
	var out []types.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Close closes the tracker database.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

var _ Tracker = (*SQLiteTracker)(nil)

// RunEvents adapts a tracker and run id to the linker's event sink: linkage
// diagnostics land in the run's durable event trail.
type RunEvents struct {
	Tracker Tracker
	RunID   string
}

// Event implements the linker.EventSink contract.
func (s RunEvents) Event(ctx context.Context, level types.EventLevel, message string) {
	// Diagnostics must never fail the pipeline.
	_ = s.Tracker.Heartbeat(ctx, s.RunID, level, message)
}
