package types

import "time"

// RunStatus is the lifecycle state of a reconciliation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// EventLevel classifies RunEvent severity.
type EventLevel string

const (
	LevelInfo  EventLevel = "INFO"
	LevelWarn  EventLevel = "WARN"
	LevelError EventLevel = "ERROR"
)

// RunRecord tracks one pipeline invocation. Append-only; the status
// transitions running → succeeded|failed exactly once.
type RunRecord struct {
	// ID is the run identifier (UUID)
	ID string `json:"id"`

	// TaskCode identifies the reconciliation task this run belongs to
	TaskCode string `json:"task_code"`

	Status RunStatus `json:"status"`

	// StartedAt is when the run entered Running
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run reached a terminal state; nil while running
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// VersionStart is the sources' change-log version captured at entry.
	// It is the resumption cursor for the next run when this one fails.
	VersionStart int64 `json:"version_start"`

	// VersionEnd is the version recorded at exit. Equal to VersionStart for
	// failed runs; partial writes never advance the cursor.
	VersionEnd int64 `json:"version_end"`

	RowsRead    int64 `json:"rows_read"`
	RowsWritten int64 `json:"rows_written"`

	// Note is a free-text outcome summary; error text verbatim for failures
	Note string `json:"note,omitempty"`
}

// RunEvent is one timestamped log line attached to a run. Append-only.
type RunEvent struct {
	RunID     string     `json:"run_id"`
	Seq       int64      `json:"seq"`
	Timestamp time.Time  `json:"timestamp"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
}

// OutcomeStatus summarizes a completed reconciliation run for the caller.
type OutcomeStatus string

const (
	// OutcomeClean means the run succeeded and every parity report passed.
	OutcomeClean OutcomeStatus = "succeeded-clean"

	// OutcomeParityWarning means the run succeeded but at least one parity
	// report failed. Orthogonal to run failure, never conflated with it.
	OutcomeParityWarning OutcomeStatus = "succeeded-with-parity-failures"

	// OutcomeFailed means the run itself failed (infrastructure error).
	OutcomeFailed OutcomeStatus = "failed"
)

// RunOutcome is returned by the reconciliation entry point.
type RunOutcome struct {
	RunID          string        `json:"run_id"`
	Status         OutcomeStatus `json:"status"`
	RowsRead       int64         `json:"rows_read"`
	RowsWritten    int64         `json:"rows_written"`
	ParityFailures int           `json:"parity_failures"`
	Quarantined    int           `json:"quarantined"`
}
