// Package types provides core data types for Tallyline.
package types

import "time"

// RawPayloadRecord is a device-captured transaction payload as received from
// the edge feed. Immutable once ingested; the engine never writes back to it.
type RawPayloadRecord struct {
	// ID is the source record identifier assigned by the ingestion feed
	ID string `json:"id"`

	// DeviceID identifies the capturing device (session token or device serial)
	DeviceID string `json:"device_id"`

	// StoreID identifies the store the device is installed in
	StoreID string `json:"store_id"`

	// RawPayload is the embedded JSON structure, possibly malformed
	RawPayload []byte `json:"raw_payload"`

	// IngestedAt is when the feed accepted the record (not an event time)
	IngestedAt time.Time `json:"ingested_at"`
}

// InteractionRecord is one entry from the authoritative interaction log.
// Its Timestamp is the only legitimate source of event time besides an
// explicit operator override.
type InteractionRecord struct {
	// ID is the authoritative interaction identifier
	ID string `json:"id"`

	// DeviceID identifies the capturing device
	DeviceID string `json:"device_id"`

	// StoreID identifies the store
	StoreID string `json:"store_id"`

	// Timestamp is the legitimate event time
	Timestamp time.Time `json:"timestamp"`

	// Transcript is the optional conversation transcript
	Transcript string `json:"transcript,omitempty"`
}

// TimestampOverride is a manual correction keyed by canonical key. It takes
// precedence over the interaction log when present. Operator-managed.
type TimestampOverride struct {
	// Key is the canonical key the correction applies to
	Key CanonicalKey `json:"key"`

	// Timestamp is the corrected event time
	Timestamp time.Time `json:"timestamp"`

	// Note is the operator's justification
	Note string `json:"note"`

	// UpdatedAt is when the override was last edited
	UpdatedAt time.Time `json:"updated_at"`
}

// PayloadItem is one line item extracted from a well-formed payload.
type PayloadItem struct {
	Brand    string  `json:"brand,omitempty"`
	Category string  `json:"category,omitempty"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// ParsedPayload holds the fields extracted from a structurally valid payload.
type ParsedPayload struct {
	// TransactionID is the payload-embedded transaction identifier, if any
	TransactionID string `json:"transaction_id,omitempty"`

	// SessionID is the payload-embedded session identifier, if any
	SessionID string `json:"session_id,omitempty"`

	// Amount is the transaction total
	Amount float64 `json:"amount"`

	// Items are the extracted line items
	Items []PayloadItem `json:"items,omitempty"`
}

// ItemCount returns the total quantity across line items. Items with a
// non-positive quantity count as one unit, matching the edge devices'
// omit-when-single convention.
func (p *ParsedPayload) ItemCount() int {
	n := 0
	for _, it := range p.Items {
		if it.Quantity > 0 {
			n += it.Quantity
		} else {
			n++
		}
	}
	return n
}

// PrimaryBrand returns the first non-empty brand across line items,
// or empty when none is present.
func (p *ParsedPayload) PrimaryBrand() string {
	for _, it := range p.Items {
		if it.Brand != "" {
			return it.Brand
		}
	}
	return ""
}

// PrimaryCategory returns the first non-empty category across line items.
func (p *ParsedPayload) PrimaryCategory() string {
	for _, it := range p.Items {
		if it.Category != "" {
			return it.Category
		}
	}
	return ""
}
