// Package linker joins normalized payload records to authoritative
// interaction records. The join is left-outer from the payload side: every
// accepted payload produces exactly one LinkedTransaction, matched or not.
//
// The matching policy is an explicit, ordered list of strategies evaluated
// in sequence per record:
//
//  1. exact canonical-key equality against the interaction index
//  2. timestamp-override key (timestamp purposes only)
//  3. unmatched: retained with a null authoritative timestamp
//
// When several interaction records share a canonical key, the earliest
// timestamp wins. The tie-break is deterministic and logged, never silent.
package linker

import (
	"context"
	"fmt"
	"sort"

	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/internal/normalize"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/pkg/types"
)

// EventSink receives linkage diagnostics (duplicate-match warnings). The run
// tracker implements this; tests use a buffer.
type EventSink interface {
	Event(ctx context.Context, level types.EventLevel, message string)
}

// NopSink discards events.
type NopSink struct{}

// Event implements EventSink.
func (NopSink) Event(context.Context, types.EventLevel, string) {}

// Linker joins accepted payloads to interaction records.
type Linker struct {
	events EventSink
}

// New creates a Linker reporting diagnostics to the given sink.
func New(events EventSink) *Linker {
	if events == nil {
		events = NopSink{}
	}
	return &Linker{events: events}
}

// interactionIndex maps canonical keys to their winning interaction record.
type interactionIndex map[types.CanonicalKey]types.InteractionRecord

// buildIndex normalizes interaction identifiers and resolves duplicates:
// the earliest-timestamped record per key wins. Duplicates are reported at
// WARN through the sink.
func (l *Linker) buildIndex(ctx context.Context, interactions []types.InteractionRecord) interactionIndex {
	// Sort by timestamp ascending, id as a stable secondary, so the winner
	// is independent of input order.
	sorted := make([]types.InteractionRecord, len(interactions))
	copy(sorted, interactions)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	idx := make(interactionIndex, len(sorted))
	for _, ir := range sorted {
		key := normalize.Normalize(ir.ID)
		if key.IsZero() {
			continue
		}
		if winner, dup := idx[key]; dup {
			l.events.Event(ctx, types.LevelWarn, errors.NewLinkageError(
				errors.CodeDuplicateMatch, fmt.Sprintf(
					"duplicate interaction records for key %s: keeping %s (earliest), dropping %s",
					key, winner.ID, ir.ID)).Error())
			continue
		}
		idx[key] = ir
	}
	return idx
}

// Link produces one LinkedTransaction per accepted payload outcome. The
// interaction set must be fully materialized before matching begins; the
// caller is responsible for that barrier.
//
// Timestamps and derived time fields are left unresolved here; identity
// linkage and time correction are separate concerns, and the timestamp
// authority applies overrides afterwards.
func (l *Linker) Link(
	ctx context.Context,
	accepted []quarantine.Outcome,
	interactions []types.InteractionRecord,
	overrides map[types.CanonicalKey]types.TimestampOverride,
) ([]types.LinkedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := l.buildIndex(ctx, interactions)

	linked := make([]types.LinkedTransaction, 0, len(accepted))
	for _, out := range accepted {
		if !out.IsAccepted() {
			// Quarantined records never reach linkage.
			continue
		}

		lt := types.LinkedTransaction{
			Key:       out.Key,
			PayloadID: out.Record.ID,
			StoreID:   out.Record.StoreID,
			DeviceID:  out.Record.DeviceID,
			Amount:    out.Accepted.Amount,
			ItemCount: out.Accepted.ItemCount(),
			Brand:     out.Accepted.PrimaryBrand(),
			Category:  out.Accepted.PrimaryCategory(),
			Match:     types.MatchNone,
		}

		// Strategy 1: exact canonical-key match.
		if ir, ok := idx[out.Key]; ok {
			lt.Match = types.MatchExact
			lt.InteractionID = ir.ID
			lt.Transcript = ir.Transcript
			ts := ir.Timestamp
			lt.Timestamp = &ts
		} else if _, ok := overrides[out.Key]; ok {
			// Strategy 2: an override exists for this key. The override's
			// timestamp itself is applied by the timestamp authority; here we
			// only record that the link resolved through it.
			lt.Match = types.MatchOverride
		}
		// Strategy 3: unmatched: retained as-is with Match == MatchNone.

		linked = append(linked, lt)
	}

	return linked, nil
}
