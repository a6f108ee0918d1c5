package runlog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/pkg/types"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	tr, err := NewSQLiteTracker(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open tracker: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestStartFinish(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Start(ctx, "recon-daily", 100)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if run.Status != types.RunRunning {
		t.Errorf("status = %s, want running", run.Status)
	}
	if run.VersionStart != 100 || run.VersionEnd != 100 {
		t.Errorf("versions = %d/%d, want 100/100", run.VersionStart, run.VersionEnd)
	}

	if err := tr.Finish(ctx, run.ID, 50, 48, 140, "ok"); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	got, err := tr.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != types.RunSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.VersionEnd != 140 {
		t.Errorf("version_end = %d, want 140", got.VersionEnd)
	}
	if got.RowsRead != 50 || got.RowsWritten != 48 {
		t.Errorf("rows = %d/%d, want 50/48", got.RowsRead, got.RowsWritten)
	}
	if got.FinishedAt == nil {
		t.Error("finished run must have a finish time")
	}
}

func TestFail_PreservesCheckpointAndErrorText(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Start(ctx, "recon-daily", 200)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	cause := fmt.Errorf("interaction source unreachable: connection refused")
	if err := tr.Fail(ctx, run.ID, cause, "linkage phase"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	got, err := tr.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != types.RunFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	// A failed run never advances the cursor.
	if got.VersionEnd != got.VersionStart {
		t.Errorf("failed run advanced cursor: %d -> %d", got.VersionStart, got.VersionEnd)
	}
	if got.Note != "linkage phase: interaction source unreachable: connection refused" {
		t.Errorf("note = %q, want verbatim error text", got.Note)
	}
}

func TestTerminate_ExactlyOnce(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, _ := tr.Start(ctx, "recon-daily", 1)
	if err := tr.Finish(ctx, run.ID, 1, 1, 2, ""); err != nil {
		t.Fatalf("first finish failed: %v", err)
	}

	err := tr.Finish(ctx, run.ID, 9, 9, 9, "")
	if errors.GetCode(err) != errors.CodeInvalidTransition {
		t.Errorf("second finish error code = %s, want %s", errors.GetCode(err), errors.CodeInvalidTransition)
	}
	err = tr.Fail(ctx, run.ID, fmt.Errorf("late"), "")
	if errors.GetCode(err) != errors.CodeInvalidTransition {
		t.Errorf("fail-after-finish error code = %s, want %s", errors.GetCode(err), errors.CodeInvalidTransition)
	}

	// Second transition left the record untouched.
	got, _ := tr.Get(ctx, run.ID)
	if got.Status != types.RunSucceeded || got.VersionEnd != 2 {
		t.Errorf("record mutated by rejected transition: %+v", got)
	}
}

func TestTerminate_UnknownRun(t *testing.T) {
	tr := newTestTracker(t)
	err := tr.Finish(context.Background(), "no-such-run", 0, 0, 0, "")
	if errors.GetCode(err) != errors.CodeRunNotFound {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeRunNotFound)
	}
}

func TestLastCheckpoint_SkipsFailedRuns(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// No runs yet: cursor starts at zero.
	v, err := tr.LastCheckpoint(ctx, "recon-daily")
	if err != nil || v != 0 {
		t.Fatalf("empty checkpoint = %d, %v; want 0, nil", v, err)
	}

	r1, _ := tr.Start(ctx, "recon-daily", 0)
	tr.Finish(ctx, r1.ID, 10, 10, 100, "")

	r2, _ := tr.Start(ctx, "recon-daily", 100)
	tr.Fail(ctx, r2.ID, fmt.Errorf("projection write failed"), "")

	// The failed run at version 100 must not advance the cursor; the next
	// run resumes from the last success.
	v, err = tr.LastCheckpoint(ctx, "recon-daily")
	if err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}
	if v != 100 {
		t.Errorf("checkpoint = %d, want 100 (last succeeded run)", v)
	}

	r3, _ := tr.Start(ctx, "recon-daily", 100)
	tr.Finish(ctx, r3.ID, 5, 5, 150, "")
	v, _ = tr.LastCheckpoint(ctx, "recon-daily")
	if v != 150 {
		t.Errorf("checkpoint = %d, want 150", v)
	}

	// Other tasks have independent cursors.
	v, _ = tr.LastCheckpoint(ctx, "recon-weekly")
	if v != 0 {
		t.Errorf("foreign task checkpoint = %d, want 0", v)
	}
}

func TestEvents_AppendOrder(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, _ := tr.Start(ctx, "recon-daily", 0)
	tr.Heartbeat(ctx, run.ID, types.LevelInfo, "read 120 payload records")
	tr.Heartbeat(ctx, run.ID, types.LevelWarn, "duplicate interaction for key ab12cd34")
	tr.Heartbeat(ctx, run.ID, types.LevelError, "parity FAIL for 2024-01-05")

	events, err := tr.Events(ctx, run.ID)
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Level != types.LevelInfo || events[2].Level != types.LevelError {
		t.Error("events out of append order")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Error("event sequence numbers must be strictly increasing")
		}
	}
}

func TestRunEvents_SinkAdapter(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, _ := tr.Start(ctx, "recon-daily", 0)
	sink := RunEvents{Tracker: tr, RunID: run.ID}
	sink.Event(ctx, types.LevelWarn, "duplicate interaction dropped")

	events, _ := tr.Events(ctx, run.ID)
	if len(events) != 1 || events[0].Message != "duplicate interaction dropped" {
		t.Errorf("sink adapter did not persist event: %+v", events)
	}
}

func TestRecentRuns(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r, _ := tr.Start(ctx, "recon-daily", int64(i))
		tr.Finish(ctx, r.ID, 1, 1, int64(i+1), "")
	}
	runs, err := tr.RecentRuns(ctx, "recon-daily", 3)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Error("recent runs must be newest first")
		}
	}
}

func TestStaleRunning(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	stale, _ := tr.Start(ctx, "recon-daily", 0)
	done, _ := tr.Start(ctx, "recon-daily", 0)
	tr.Finish(ctx, done.ID, 0, 0, 0, "")

	got, err := tr.StaleRunning(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale query failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("stale runs = %+v, want only the unfinished run", got)
	}

	// Nothing is stale against a cutoff in the past.
	got, _ = tr.StaleRunning(ctx, time.Now().Add(-time.Hour))
	if len(got) != 0 {
		t.Errorf("stale runs against past cutoff = %d, want 0", len(got))
	}
}
