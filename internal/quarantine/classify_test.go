package quarantine

import (
	"testing"

	"github.com/tallyline/tallyline/pkg/types"
)

func rec(payload []byte) types.RawPayloadRecord {
	return types.RawPayloadRecord{
		ID:       "p-1",
		DeviceID: "dev-9",
		StoreID:  "104",
		RawPayload: payload,
	}
}

func TestClassify_AcceptsWellFormedPayload(t *testing.T) {
	out := Classify(rec([]byte(`{
		"transaction_id": "AB12-cd34",
		"session_id": "sess-1",
		"amount": 125.50,
		"items": [{"brand": "Alpine", "category": "Dairy", "qty": 2, "price": 62.75}]
	}`)))

	if !out.IsAccepted() {
		t.Fatalf("expected accepted, got reason %s", out.Reason)
	}
	if out.Key != "ab12cd34" {
		t.Errorf("key = %q, want ab12cd34", out.Key)
	}
	if out.Accepted.Amount != 125.50 {
		t.Errorf("amount = %v, want 125.50", out.Accepted.Amount)
	}
	if got := out.Accepted.PrimaryBrand(); got != "Alpine" {
		t.Errorf("brand = %q, want Alpine", got)
	}
	if got := out.Accepted.ItemCount(); got != 2 {
		t.Errorf("item count = %d, want 2", got)
	}
}

func TestClassify_FirmwareAliases(t *testing.T) {
	out := Classify(rec([]byte(`{"tx_id": "TX-99", "total": 10}`)))
	if !out.IsAccepted() {
		t.Fatalf("expected accepted, got reason %s", out.Reason)
	}
	if out.Key != "tx99" {
		t.Errorf("key = %q, want tx99", out.Key)
	}
	if out.Accepted.Amount != 10 {
		t.Errorf("amount = %v, want 10", out.Accepted.Amount)
	}
}

func TestClassify_ReasonTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    Reason
	}{
		{"null payload", nil, ReasonNullPayload},
		{"empty payload", []byte{}, ReasonEmpty},
		{"invalid utf8", []byte{'{', 0xff, 0xfe, '}'}, ReasonEncoding},
		{"truncated object", []byte(`{"transaction_id": "ab12", "amo`), ReasonTruncated},
		{"truncated string", []byte(`{"transaction_id": "ab`), ReasonTruncated},
		{"scalar", []byte(`42`), ReasonNotObject},
		{"array", []byte(`[1,2,3]`), ReasonNotObject},
		{"null literal", []byte(`null`), ReasonNotObject},
		{"plain text", []byte(`hello world`), ReasonNotObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(rec(tt.payload))
			if out.IsAccepted() {
				t.Fatal("expected quarantined outcome")
			}
			if out.Reason != tt.want {
				t.Errorf("reason = %s, want %s", out.Reason, tt.want)
			}
		})
	}
}

func TestClassify_FallsBackToDeviceIdentifier(t *testing.T) {
	// Parsable object with no embedded identifiers: the envelope's device id
	// still identifies the record.
	out := Classify(rec([]byte(`{"amount": 5}`)))
	if !out.IsAccepted() {
		t.Fatalf("expected accepted, got reason %s", out.Reason)
	}
	if out.Key != "dev9" {
		t.Errorf("key = %q, want dev9", out.Key)
	}
}

func TestClassify_NoIdentifierAnywhere(t *testing.T) {
	r := rec([]byte(`{"amount": 5}`))
	r.DeviceID = ""
	out := Classify(r)
	if out.IsAccepted() {
		t.Fatal("expected quarantined outcome")
	}
	if out.Reason != ReasonNoIdentifier {
		t.Errorf("reason = %s, want %s", out.Reason, ReasonNoIdentifier)
	}
}
