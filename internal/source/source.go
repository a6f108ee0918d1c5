// Package source reads raw payload records, interaction records, and
// timestamp overrides from upstream systems. Sources expose a change-log
// version so the engine can process only rows changed since the last
// succeeded run.
package source

import (
	"context"

	"github.com/tallyline/tallyline/pkg/types"
)

// PayloadSource reads raw device payload records.
type PayloadSource interface {
	// ChangedSince returns payload records with a change version strictly
	// greater than the given cursor, in version order.
	ChangedSince(ctx context.Context, version int64) ([]types.RawPayloadRecord, error)

	// CurrentVersion returns the source's current change-log version.
	CurrentVersion(ctx context.Context) (int64, error)
}

// InteractionSource reads operator-side interaction records.
type InteractionSource interface {
	// ChangedSince returns interaction records changed since the cursor.
	ChangedSince(ctx context.Context, version int64) ([]types.InteractionRecord, error)

	// CurrentVersion returns the source's current change-log version.
	CurrentVersion(ctx context.Context) (int64, error)
}

// OverrideStore holds operator-entered timestamp overrides, keyed by
// canonical key. Overrides are few and always read in full.
type OverrideStore interface {
	// All returns every override keyed by canonical key.
	All(ctx context.Context) (map[types.CanonicalKey]types.TimestampOverride, error)

	// Upsert creates or replaces an override.
	Upsert(ctx context.Context, ov types.TimestampOverride) error
}
