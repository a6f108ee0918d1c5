package types

import "time"

// MatchKind records which linkage strategy resolved a transaction.
type MatchKind string

const (
	// MatchExact means the payload-derived key matched an interaction key.
	MatchExact MatchKind = "exact"

	// MatchOverride means only a timestamp override matched the key.
	MatchOverride MatchKind = "override"

	// MatchNone means no authoritative record was found; the transaction is
	// retained with a null timestamp.
	MatchNone MatchKind = "none"
)

// Daypart is a fixed bucketing of hour-of-day into named periods.
type Daypart string

const (
	DaypartMorning   Daypart = "Morning"
	DaypartAfternoon Daypart = "Afternoon"
	DaypartEvening   Daypart = "Evening"
	DaypartNight     Daypart = "Night"
)

// DayClass distinguishes weekdays from weekends.
type DayClass string

const (
	DayClassWeekday DayClass = "Weekday"
	DayClassWeekend DayClass = "Weekend"
)

// LinkedTransaction is the canonical reconciled record: one per accepted
// payload, with the authoritative timestamp (when resolvable) and the fields
// needed by both projections. Never mutated in place; re-derived from the
// source records on every run.
type LinkedTransaction struct {
	// Key is the canonical transaction key
	Key CanonicalKey `json:"key"`

	// PayloadID is the source payload record id
	PayloadID string `json:"payload_id"`

	// InteractionID is the matched interaction record id, empty if unmatched
	InteractionID string `json:"interaction_id,omitempty"`

	// Match records which strategy resolved the link
	Match MatchKind `json:"match"`

	// StoreID is taken from the payload record
	StoreID string `json:"store_id"`

	// DeviceID is taken from the payload record
	DeviceID string `json:"device_id"`

	// Amount is the transaction total from the parsed payload
	Amount float64 `json:"amount"`

	// ItemCount is the total item quantity from the parsed payload
	ItemCount int `json:"item_count"`

	// Brand is the primary brand, empty when the payload carried none
	Brand string `json:"brand,omitempty"`

	// Category is the primary category, empty when the payload carried none
	Category string `json:"category,omitempty"`

	// Transcript is carried over from the matched interaction record
	Transcript string `json:"transcript,omitempty"`

	// Timestamp is the authoritative event time; nil when unresolvable.
	// Sourced from the interaction log or an override, never the payload.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Daypart is derived from Timestamp; empty when Timestamp is nil
	Daypart Daypart `json:"daypart,omitempty"`

	// DayClass is derived from Timestamp; empty when Timestamp is nil
	DayClass DayClass `json:"day_class,omitempty"`
}

// HasTimestamp reports whether an authoritative timestamp was resolved.
func (lt *LinkedTransaction) HasTimestamp() bool {
	return lt.Timestamp != nil
}
