package projection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/pkg/types"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := NewSQLiteSink(filepath.Join(t.TempDir(), "projections.db"))
	if err != nil {
		t.Fatalf("failed to open sink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func buildSample(t *testing.T) *BuildResult {
	t.Helper()
	result, err := NewBuilder(2).Build(context.Background(), sampleLinked())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return result
}

func TestSink_ReplaceAndTotals(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	if err := s.Replace(ctx, buildSample(t)); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	flat, err := s.FlatDailyTotals(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("flat totals failed: %v", err)
	}
	ct, err := s.CrosstabDailyTotals(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("crosstab totals failed: %v", err)
	}

	if len(flat) != 2 || len(ct) != 2 {
		t.Fatalf("dates: flat %d, crosstab %d, want 2 each", len(flat), len(ct))
	}
	for i := range flat {
		if flat[i].Count != ct[i].Count || flat[i].Amount != ct[i].Amount {
			t.Errorf("date %s: flat %+v != crosstab %+v", flat[i].Date, flat[i], ct[i])
		}
	}
}

func TestSink_ReplaceErrorCarriesSwapCode(t *testing.T) {
	s := newTestSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	err := s.Replace(context.Background(), buildSample(t))
	if err == nil {
		t.Fatal("replace on a closed sink must fail")
	}
	if errors.GetCategory(err) != errors.ErrCategoryProjection {
		t.Errorf("category = %s, want %s", errors.GetCategory(err), errors.ErrCategoryProjection)
	}
	if errors.GetCode(err) != errors.CodeSwapFailed {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeSwapFailed)
	}
}

func TestSink_GenerationBumpsPerReplace(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	gen, err := s.Generation(ctx)
	if err != nil || gen != 0 {
		t.Fatalf("initial generation = %d (%v), want 0", gen, err)
	}

	for want := int64(1); want <= 3; want++ {
		if err := s.Replace(ctx, buildSample(t)); err != nil {
			t.Fatalf("replace failed: %v", err)
		}
		gen, err = s.Generation(ctx)
		if err != nil {
			t.Fatalf("generation failed: %v", err)
		}
		if gen != want {
			t.Errorf("generation = %d, want %d", gen, want)
		}
	}
}

func TestSink_ReplaceIsFullSwap(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	if err := s.Replace(ctx, buildSample(t)); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	// Second build with a single row: previous contents must be gone.
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	single, err := NewBuilder(1).Build(ctx, []types.LinkedTransaction{
		tx("solo", "p-9", "110", "Alpine", 42, &ts, types.DaypartMorning),
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := s.Replace(ctx, single); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	rows, err := s.FlatRows(ctx, "", "", "", "", 0)
	if err != nil {
		t.Fatalf("flat rows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("flat rows after swap = %d, want 1", len(rows))
	}
	if rows[0].PayloadID != "p-9" {
		t.Errorf("surviving row = %q, want p-9", rows[0].PayloadID)
	}
}

func TestSink_FlatRowsFilters(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()
	if err := s.Replace(ctx, buildSample(t)); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	rows, err := s.FlatRows(ctx, "2024-01-05", "2024-01-05", "102", "", 0)
	if err != nil {
		t.Fatalf("flat rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("store 102 on Jan 5 = %d rows, want 3", len(rows))
	}

	rows, err = s.FlatRows(ctx, "", "", "", "Summit", 0)
	if err != nil {
		t.Fatalf("flat rows failed: %v", err)
	}
	// Brand filter matches both the timestamped and null-timestamp Summit rows.
	if len(rows) != 2 {
		t.Errorf("Summit rows = %d, want 2", len(rows))
	}
}
