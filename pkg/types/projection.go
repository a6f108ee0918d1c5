package types

import "time"

// FlatRow is one row of the flat projection: every linked transaction,
// including those with a null authoritative timestamp.
type FlatRow struct {
	Key           CanonicalKey `json:"key"`
	PayloadID     string       `json:"payload_id"`
	InteractionID string       `json:"interaction_id,omitempty"`
	Match         MatchKind    `json:"match"`
	StoreID       string       `json:"store_id"`
	DeviceID      string       `json:"device_id"`
	Amount        float64      `json:"amount"`
	ItemCount     int          `json:"item_count"`
	Brand         string       `json:"brand,omitempty"`
	Category      string       `json:"category,omitempty"`
	Transcript    string       `json:"transcript,omitempty"`
	Timestamp     *time.Time   `json:"timestamp,omitempty"`
	Daypart       Daypart      `json:"daypart,omitempty"`
	DayClass      DayClass     `json:"day_class,omitempty"`
}

// CrosstabRow is one row of the pre-aggregated projection, grouped by
// (date, store, daypart, brand). Only transactions with a non-null
// authoritative timestamp contribute. Derived, never hand-edited.
type CrosstabRow struct {
	// Date is the event date in YYYY-MM-DD form
	Date string `json:"date"`

	StoreID string  `json:"store_id"`
	Daypart Daypart `json:"daypart"`

	// Brand is the transaction brand, "Unknown" when the payload carried none
	Brand string `json:"brand"`

	// TxCount is the number of transactions in the group
	TxCount int64 `json:"tx_count"`

	// TotalAmount is the summed transaction amount for the group
	TotalAmount float64 `json:"total_amount"`

	// AvgAmount is TotalAmount / TxCount, computed from the same grouped set
	AvgAmount float64 `json:"avg_amount"`
}

// ParityVerdict is the outcome of a per-date projection comparison.
type ParityVerdict string

const (
	ParityPass ParityVerdict = "PASS"
	ParityFail ParityVerdict = "FAIL"
)

// ParityReport compares the two projections for a single date.
type ParityReport struct {
	// Date is the audited event date in YYYY-MM-DD form
	Date string `json:"date"`

	// FlatCount counts flat rows with a non-null timestamp on Date
	FlatCount int64 `json:"flat_count"`

	// CrosstabCount is the summed crosstab tx_count on Date
	CrosstabCount int64 `json:"crosstab_count"`

	// FlatAmount sums flat amounts with a non-null timestamp on Date
	FlatAmount float64 `json:"flat_amount"`

	// CrosstabAmount is the summed crosstab total_amount on Date
	CrosstabAmount float64 `json:"crosstab_amount"`

	// CountDelta is CrosstabCount - FlatCount
	CountDelta int64 `json:"count_delta"`

	// AmountDelta is CrosstabAmount - FlatAmount
	AmountDelta float64 `json:"amount_delta"`

	// Verdict is PASS iff CountDelta == 0 and |AmountDelta| is within tolerance
	Verdict ParityVerdict `json:"verdict"`

	// AuditedAt is when the comparison ran
	AuditedAt time.Time `json:"audited_at"`
}
