// Package quarantine captures payloads that fail structural parsing. A
// quarantined record never blocks the pipeline: classification is total,
// the record is excluded from linkage, and the durable side-store keeps
// enough context for upstream root-cause fixes.
package quarantine

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/tallyline/tallyline/internal/normalize"
	"github.com/tallyline/tallyline/pkg/types"
)

// Reason classifies why a payload was quarantined.
type Reason string

const (
	// ReasonNullPayload means the payload field was absent entirely.
	ReasonNullPayload Reason = "NULL_PAYLOAD"

	// ReasonEmpty means the payload was present but zero-length.
	ReasonEmpty Reason = "EMPTY"

	// ReasonTruncated means the payload starts like JSON but ends mid-value.
	ReasonTruncated Reason = "TRUNCATED"

	// ReasonEncoding means the payload is not valid UTF-8.
	ReasonEncoding Reason = "ENCODING"

	// ReasonNotObject means the payload parsed but is not a JSON object.
	ReasonNotObject Reason = "NOT_OBJECT"

	// ReasonNoIdentifier means the structure parsed but carries no usable
	// transaction or session identifier.
	ReasonNoIdentifier Reason = "NO_IDENTIFIER"
)

// Outcome is the classification result for one payload record: either
// Accepted with parsed fields and a derived key, or Quarantined with a
// reason. Exactly one of the two is set.
type Outcome struct {
	Record   types.RawPayloadRecord
	Accepted *types.ParsedPayload
	Key      types.CanonicalKey
	Reason   Reason
}

// IsAccepted reports whether the record passed structural validation.
func (o *Outcome) IsAccepted() bool {
	return o.Accepted != nil
}

// payloadShape mirrors the embedded structure the edge devices emit. Field
// aliases cover the two generations of device firmware in the field.
type payloadShape struct {
	TransactionID string  `json:"transaction_id"`
	TxID          string  `json:"tx_id"`
	SessionID     string  `json:"session_id"`
	Amount        float64 `json:"amount"`
	Total         float64 `json:"total"`
	Items         []struct {
		Brand    string  `json:"brand"`
		Category string  `json:"category"`
		Quantity int     `json:"qty"`
		Price    float64 `json:"price"`
	} `json:"items"`
}

// Classify validates the structural well-formedness of a payload and
// extracts its fields. It never returns an error: every failure mode maps
// to a quarantine reason.
func Classify(rec types.RawPayloadRecord) Outcome {
	raw := rec.RawPayload

	if raw == nil {
		return Outcome{Record: rec, Reason: ReasonNullPayload}
	}
	if len(raw) == 0 {
		return Outcome{Record: rec, Reason: ReasonEmpty}
	}
	if !utf8.Valid(raw) {
		return Outcome{Record: rec, Reason: ReasonEncoding}
	}

	var shape payloadShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		if looksTruncated(raw) {
			return Outcome{Record: rec, Reason: ReasonTruncated}
		}
		return Outcome{Record: rec, Reason: ReasonNotObject}
	}

	// json.Unmarshal accepts top-level arrays and scalars into nothing;
	// require an object explicitly.
	if trimmed := trimLeadingSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return Outcome{Record: rec, Reason: ReasonNotObject}
	}

	parsed := extract(shape)
	key, ok := normalize.DeriveKey(parsed.TransactionID, parsed.SessionID)
	if !ok {
		// Last resort before quarantine: a device/session identifier on the
		// envelope still identifies the record.
		if key = normalize.Normalize(rec.DeviceID); key.IsZero() {
			return Outcome{Record: rec, Reason: ReasonNoIdentifier}
		}
	}

	return Outcome{Record: rec, Accepted: &parsed, Key: key}
}

// extract maps the wire shape to ParsedPayload, reconciling firmware field
// aliases (tx_id vs transaction_id, total vs amount).
func extract(shape payloadShape) types.ParsedPayload {
	p := types.ParsedPayload{
		TransactionID: shape.TransactionID,
		SessionID:     shape.SessionID,
		Amount:        shape.Amount,
	}
	if p.TransactionID == "" {
		p.TransactionID = shape.TxID
	}
	if p.Amount == 0 {
		p.Amount = shape.Total
	}
	for _, it := range shape.Items {
		p.Items = append(p.Items, types.PayloadItem{
			Brand:    it.Brand,
			Category: it.Category,
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}
	return p
}

// looksTruncated reports whether a JSON parse failure is consistent with a
// payload cut off mid-stream: it opens a JSON value but the braces/brackets
// never balance.
func looksTruncated(raw []byte) bool {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}

	depth := 0
	inString := false
	escaped := false
	for _, c := range trimmed {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth > 0 || inString
}

func trimLeadingSpace(raw []byte) []byte {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return raw[i:]
		}
	}
	return nil
}
