// Package timeauth enforces single-source timestamp authority. The resolved
// event time comes from an operator override or the interaction log, in that
// order of precedence, never from the raw payload, whose self-reported time
// is untrusted. Derived time buckets (daypart, weekday/weekend) follow the
// resolved timestamp and stay null when it is null.
package timeauth

import (
	"time"

	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/pkg/types"
)

// Resolver applies timestamp precedence and derives time buckets.
type Resolver struct {
	bounds    config.DaypartBounds
	overrides map[types.CanonicalKey]types.TimestampOverride
}

// New creates a Resolver with the given daypart bounds and override table.
func New(bounds config.DaypartBounds, overrides map[types.CanonicalKey]types.TimestampOverride) *Resolver {
	if overrides == nil {
		overrides = map[types.CanonicalKey]types.TimestampOverride{}
	}
	return &Resolver{bounds: bounds, overrides: overrides}
}

// Resolve stamps a linked transaction in place: authoritative timestamp,
// daypart, and weekday/weekend class. Precedence is override > interaction
// timestamp > null. Null timestamp leaves both derived fields empty;
// a guessed bucket would poison the crosstab.
func (r *Resolver) Resolve(lt *types.LinkedTransaction) {
	if ov, ok := r.overrides[lt.Key]; ok {
		ts := ov.Timestamp
		lt.Timestamp = &ts
	}
	// Otherwise lt.Timestamp already holds the interaction timestamp from
	// linkage, or nil for unmatched records.

	if lt.Timestamp == nil {
		lt.Daypart = ""
		lt.DayClass = ""
		return
	}

	lt.Daypart = r.DaypartOf(*lt.Timestamp)
	lt.DayClass = DayClassOf(*lt.Timestamp)
}

// ResolveAll stamps every transaction in the slice.
func (r *Resolver) ResolveAll(linked []types.LinkedTransaction) {
	for i := range linked {
		r.Resolve(&linked[i])
	}
}

// DaypartOf buckets an hour-of-day using the configured bounds.
func (r *Resolver) DaypartOf(t time.Time) types.Daypart {
	h := t.Hour()
	b := r.bounds
	switch {
	case h >= b.MorningStart && h <= b.MorningEnd:
		return types.DaypartMorning
	case h >= b.AfternoonStart && h <= b.AfternoonEnd:
		return types.DaypartAfternoon
	case h >= b.EveningStart && h <= b.EveningEnd:
		return types.DaypartEvening
	default:
		return types.DaypartNight
	}
}

// DayClassOf classifies a timestamp as weekday or weekend.
func DayClassOf(t time.Time) types.DayClass {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return types.DayClassWeekend
	default:
		return types.DayClassWeekday
	}
}
