package normalize

import (
	"testing"

	"github.com/tallyline/tallyline/pkg/types"
)

func TestNormalize_StripsFormattingVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want types.CanonicalKey
	}{
		{"uuid with hyphens", "AB12-cd34", "ab12cd34"},
		{"mixed case", "Ab12Cd34", "ab12cd34"},
		{"underscores", "ab12_cd34", "ab12cd34"},
		{"surrounding whitespace", "  ab12cd34\t", "ab12cd34"},
		{"embedded whitespace", "ab12 cd34", "ab12cd34"},
		{"already canonical", "ab12cd34", "ab12cd34"},
		{"empty", "", ""},
		{"only separators", "--__  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_TruncatesToComparisonLength(t *testing.T) {
	long := "0123456789abcdef0123456789abcdef-EXTRA-TAIL"
	got := Normalize(long)
	if len(got) != types.KeyLength {
		t.Fatalf("key length = %d, want %d", len(got), types.KeyLength)
	}
	if got != "0123456789abcdef0123456789abcdef" {
		t.Errorf("unexpected truncation: %q", got)
	}
}

func TestDeriveKey_PrefersTransactionID(t *testing.T) {
	key, ok := DeriveKey("TX-100", "sess-200")
	if !ok || key != "tx100" {
		t.Fatalf("got (%q, %v), want (tx100, true)", key, ok)
	}
}

func TestDeriveKey_FallsBackToSession(t *testing.T) {
	key, ok := DeriveKey("", "Sess-200")
	if !ok || key != "sess200" {
		t.Fatalf("got (%q, %v), want (sess200, true)", key, ok)
	}

	// A transaction id made only of separators is unusable, same as empty.
	key, ok = DeriveKey("---", "sess-200")
	if !ok || key != "sess200" {
		t.Fatalf("got (%q, %v), want (sess200, true)", key, ok)
	}
}

func TestDeriveKey_NoUsableIdentifier(t *testing.T) {
	if _, ok := DeriveKey("", ""); ok {
		t.Error("expected no key from empty identifiers")
	}
	if _, ok := DeriveKey("  ", "__"); ok {
		t.Error("expected no key from separator-only identifiers")
	}
}
