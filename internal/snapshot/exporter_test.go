package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/internal/storage"
	"github.com/tallyline/tallyline/pkg/types"
)

func sampleResult() *projection.BuildResult {
	ts := time.Date(2024, 1, 5, 8, 30, 0, 0, time.UTC)
	return &projection.BuildResult{
		Flat: []types.FlatRow{
			{Key: "ab12cd34", PayloadID: "p-1", Match: types.MatchExact, StoreID: "102",
				DeviceID: "dev-1", Amount: 100, ItemCount: 2, Brand: "Alpine",
				Timestamp: &ts, Daypart: types.DaypartMorning, DayClass: types.DayClassWeekday},
			{Key: "ef56ab78", PayloadID: "p-2", Match: types.MatchNone, StoreID: "104",
				DeviceID: "dev-2", Amount: 25, ItemCount: 1},
		},
		Crosstab: []types.CrosstabRow{
			{Date: "2024-01-05", StoreID: "102", Daypart: types.DaypartMorning,
				Brand: "Alpine", TxCount: 1, TotalAmount: 100, AvgAmount: 100},
		},
	}
}

func TestExport_RoundTrip(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	if err := NewExporter(store, "recon-daily").Export(ctx, sampleResult(), 7); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	flat, err := ReadObject[types.FlatRow](ctx, store,
		"snapshots/recon-daily/gen-0000000007/flat.jsonl.sz", t.TempDir())
	if err != nil {
		t.Fatalf("read flat failed: %v", err)
	}
	if len(flat) != 2 {
		t.Fatalf("flat rows = %d, want 2", len(flat))
	}
	if flat[0].Key != "ab12cd34" || flat[0].Amount != 100 {
		t.Errorf("flat[0] = %+v", flat[0])
	}
	if flat[1].Timestamp != nil {
		t.Error("null timestamp must survive the round trip as null")
	}

	ct, err := ReadObject[types.CrosstabRow](ctx, store,
		"snapshots/recon-daily/gen-0000000007/crosstab.jsonl.sz", t.TempDir())
	if err != nil {
		t.Fatalf("read crosstab failed: %v", err)
	}
	if len(ct) != 1 || ct[0].TxCount != 1 || ct[0].Brand != "Alpine" {
		t.Errorf("crosstab = %+v", ct)
	}
}

func TestExport_PrunesOldGenerations(t *testing.T) {
	store, _ := storage.NewLocalStore(t.TempDir())
	ctx := context.Background()
	exp := NewExporter(store, "recon-daily")
	exp.retain = 2

	for gen := int64(1); gen <= 4; gen++ {
		if err := exp.Export(ctx, sampleResult(), gen); err != nil {
			t.Fatalf("export gen %d failed: %v", gen, err)
		}
	}

	objects, err := store.ListObjects(ctx, "snapshots/recon-daily/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	// Two files per retained generation.
	if len(objects) != 4 {
		t.Errorf("retained objects = %v, want 4", objects)
	}
	for _, obj := range objects {
		if obj < "snapshots/recon-daily/gen-0000000003" {
			t.Errorf("stale generation survived prune: %s", obj)
		}
	}
}
