// Package engine orchestrates a reconciliation run: incremental source
// reads, payload classification, record linkage, timestamp resolution,
// projection rebuild, and the parity audit, all under one tracked run.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tallyline/tallyline/internal/alert"
	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/linker"
	"github.com/tallyline/tallyline/internal/observability"
	"github.com/tallyline/tallyline/internal/parity"
	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/internal/runlog"
	"github.com/tallyline/tallyline/internal/snapshot"
	"github.com/tallyline/tallyline/internal/source"
	"github.com/tallyline/tallyline/internal/timeauth"
	"github.com/tallyline/tallyline/pkg/types"
)

// Deps wires the engine's collaborators. Exporter and Notifier are optional;
// everything else is required.
type Deps struct {
	Payloads     source.PayloadSource
	Interactions source.InteractionSource
	Overrides    source.OverrideStore
	Quarantine   quarantine.Store
	Sink         projection.Sink
	Reports      parity.ReportStore
	Tracker      runlog.Tracker
	Exporter     *snapshot.Exporter
	Notifier     *alert.Notifier
	Logger       *log.Logger
}

// Engine runs the reconciliation pipeline.
type Engine struct {
	cfg   *config.Config
	deps  Deps
	stats *observability.PhaseStats
}

// New creates an engine from resolved configuration and wired dependencies.
func New(cfg *config.Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		stats: observability.NewPhaseStats(),
	}
}

// Stats returns the engine's accumulated phase statistics.
func (e *Engine) Stats() *observability.PhaseStats {
	return e.stats
}

// Run executes one reconciliation run for the configured task. The run is
// tracked from start to terminal state; on failure the checkpoint cursor is
// left at its pre-run value so the next run reprocesses the same window.
func (e *Engine) Run(ctx context.Context) (*types.RunOutcome, error) {
	taskCode := e.cfg.TaskCode

	cursor, err := e.deps.Tracker.LastCheckpoint(ctx, taskCode)
	if err != nil {
		return nil, err
	}

	run, err := e.deps.Tracker.Start(ctx, taskCode, cursor)
	if err != nil {
		return nil, err
	}
	e.deps.Logger.Printf("run %s started (task=%s cursor=%d)", run.ID, taskCode, cursor)
	e.notify(alert.RunStarted, run.ID, "")

	outcome, runErr := e.execute(ctx, run, cursor)
	if runErr != nil {
		e.deps.Logger.Printf("run %s failed: %v", run.ID, runErr)
		// The run may have failed because ctx is cancelled or expired; the
		// terminal transition must still land or the run dangles in Running.
		failCtx := context.WithoutCancel(ctx)
		if failErr := e.deps.Tracker.Fail(failCtx, run.ID, runErr, outcome.failedPhase); failErr != nil {
			e.deps.Logger.Printf("run %s: failed to record failure: %v", run.ID, failErr)
		}
		e.notify(alert.RunFailed, run.ID, runErr.Error())
		return &types.RunOutcome{
			RunID:       run.ID,
			Status:      types.OutcomeFailed,
			RowsRead:    outcome.rowsRead,
			Quarantined: outcome.quarantined,
		}, runErr
	}

	if err := e.deps.Tracker.Finish(ctx, run.ID,
		outcome.rowsRead, outcome.rowsWritten, outcome.versionEnd, outcome.note); err != nil {
		return nil, err
	}
	e.deps.Logger.Printf("run %s finished (read=%d written=%d parity_failures=%d)",
		run.ID, outcome.rowsRead, outcome.rowsWritten, outcome.parityFailures)

	status := types.OutcomeClean
	if outcome.parityFailures > 0 {
		status = types.OutcomeParityWarning
		e.notify(alert.ParityFailed, run.ID,
			fmt.Sprintf("%d parity failures in audit window", outcome.parityFailures))
	}
	e.notify(alert.RunSucceeded, run.ID, outcome.note)
	return &types.RunOutcome{
		RunID:          run.ID,
		Status:         status,
		RowsRead:       outcome.rowsRead,
		RowsWritten:    outcome.rowsWritten,
		ParityFailures: outcome.parityFailures,
		Quarantined:    outcome.quarantined,
	}, nil
}

func (e *Engine) notify(kind alert.Kind, runID, message string) {
	if e.deps.Notifier == nil {
		return
	}
	e.deps.Notifier.Publish(alert.Notification{
		Kind:     kind,
		TaskCode: e.cfg.TaskCode,
		RunID:    runID,
		Message:  message,
	})
}

type runResult struct {
	rowsRead       int64
	rowsWritten    int64
	versionEnd     int64
	quarantined    int
	parityFailures int
	note           string
	failedPhase    string
}

func (e *Engine) execute(ctx context.Context, run *types.RunRecord, cursor int64) (*runResult, error) {
	res := &runResult{versionEnd: cursor}
	events := runlog.RunEvents{Tracker: e.deps.Tracker, RunID: run.ID}

	// Read phase. The target version is captured before reading so records
	// arriving mid-run land in the next window, never half-processed.
	var fresh []types.RawPayloadRecord
	var interactions []types.InteractionRecord
	var overrides map[types.CanonicalKey]types.TimestampOverride

	err := e.stats.Timed(observability.PhaseRead, func() (int64, error) {
		// Only the payload read is cursored, so only the payload source's
		// version may become the checkpoint. Mixing in the interaction
		// counter would skip payload records whenever it runs ahead.
		payloadVersion, err := e.deps.Payloads.CurrentVersion(ctx)
		if err != nil {
			return 0, err
		}
		res.versionEnd = payloadVersion

		fresh, err = e.deps.Payloads.ChangedSince(ctx, cursor)
		if err != nil {
			return 0, err
		}
		// The interaction log and overrides are always read in full: a fresh
		// interaction may match a payload processed long ago, and an override
		// edit must take effect without the payload changing.
		interactions, err = e.deps.Interactions.ChangedSince(ctx, 0)
		if err != nil {
			return 0, err
		}
		overrides, err = e.deps.Overrides.All(ctx)
		if err != nil {
			return 0, err
		}
		return int64(len(fresh) + len(interactions)), nil
	})
	if err != nil {
		res.failedPhase = "read phase"
		return res, err
	}
	res.rowsRead = int64(len(fresh) + len(interactions))
	events.Event(ctx, types.LevelInfo,
		fmt.Sprintf("read %d payload and %d interaction records", len(fresh), len(interactions)))

	// Classify phase: worker pool over fresh payloads.
	var accepted []quarantine.Outcome
	err = e.stats.Timed(observability.PhaseClassify, func() (int64, error) {
		var classifyErr error
		accepted, res.quarantined, classifyErr = e.classify(ctx, fresh)
		return int64(len(fresh)), classifyErr
	})
	if err != nil {
		res.failedPhase = "classify phase"
		return res, err
	}
	if res.quarantined > 0 {
		events.Event(ctx, types.LevelWarn,
			fmt.Sprintf("quarantined %d of %d payload records", res.quarantined, len(fresh)))
	}

	// Retained rows from the previous generation rejoin the pipeline so new
	// interactions and override edits apply to them too.
	retained, err := e.retainedOutcomes(ctx, accepted)
	if err != nil {
		res.failedPhase = "retained row read"
		return res, err
	}
	accepted = append(accepted, retained...)

	// Link phase. The interaction set is fully materialized above; this is
	// the barrier linkage requires.
	var linked []types.LinkedTransaction
	err = e.stats.Timed(observability.PhaseLink, func() (int64, error) {
		var linkErr error
		linked, linkErr = linker.New(events).Link(ctx, accepted, interactions, overrides)
		return int64(len(linked)), linkErr
	})
	if err != nil {
		res.failedPhase = "linkage phase"
		return res, err
	}

	// Resolve phase: timestamp authority.
	err = e.stats.Timed(observability.PhaseResolve, func() (int64, error) {
		timeauth.New(e.cfg.Pipeline.DaypartBounds, overrides).ResolveAll(linked)
		return int64(len(linked)), ctx.Err()
	})
	if err != nil {
		res.failedPhase = "resolve phase"
		return res, err
	}

	// Project phase: rebuild both projections and swap atomically.
	var generation int64
	var buildResult *projection.BuildResult
	err = e.stats.Timed(observability.PhaseProject, func() (int64, error) {
		var buildErr error
		buildResult, buildErr = projection.NewBuilder(e.cfg.Pipeline.Workers).Build(ctx, linked)
		if buildErr != nil {
			return 0, buildErr
		}
		if err := e.deps.Sink.Replace(ctx, buildResult); err != nil {
			return 0, err
		}
		generation, buildErr = e.deps.Sink.Generation(ctx)
		return int64(len(buildResult.Flat)), buildErr
	})
	if err != nil {
		res.failedPhase = "projection phase"
		return res, err
	}
	res.rowsWritten = int64(len(buildResult.Flat) + len(buildResult.Crosstab))
	events.Event(ctx, types.LevelInfo,
		fmt.Sprintf("projection generation %d: %d flat, %d crosstab rows",
			generation, len(buildResult.Flat), len(buildResult.Crosstab)))

	// Audit phase: parity between the two projections, reports appended to
	// the audit history. A FAIL verdict degrades the outcome, never the run.
	err = e.stats.Timed(observability.PhaseAudit, func() (int64, error) {
		auditor := parity.NewAuditor(e.deps.Sink, e.cfg.Parity.AmountTolerance)
		reports, auditErr := auditor.Audit(ctx, time.Now().UTC(), e.cfg.Parity.WindowDays)
		if auditErr != nil {
			return 0, auditErr
		}
		if err := e.deps.Reports.Append(ctx, reports); err != nil {
			return 0, err
		}
		for _, r := range reports {
			if r.Verdict == types.ParityFail {
				res.parityFailures++
				events.Event(ctx, types.LevelError,
					fmt.Sprintf("parity FAIL for %s: count delta %d, amount delta %.4f",
						r.Date, r.CountDelta, r.AmountDelta))
			}
		}
		return int64(len(reports)), nil
	})
	if err != nil {
		res.failedPhase = "audit phase"
		return res, err
	}

	// Snapshot export is best effort: the swap has already committed.
	if e.deps.Exporter != nil {
		err = e.stats.Timed(observability.PhaseSnapshot, func() (int64, error) {
			return int64(len(buildResult.Flat)), e.deps.Exporter.Export(ctx, buildResult, generation)
		})
		if err != nil {
			events.Event(ctx, types.LevelWarn, fmt.Sprintf("snapshot export failed: %v", err))
		}
	}

	if res.parityFailures > 0 {
		res.note = fmt.Sprintf("completed with %d parity failures", res.parityFailures)
	} else {
		res.note = "completed clean"
	}
	return res, nil
}
