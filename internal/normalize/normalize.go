// Package normalize derives canonical transaction keys from the
// heterogeneous identifiers carried by edge payloads and the interaction
// log. Normalization is total and deterministic: it never fails, and two
// identifiers that differ only by casing, hyphenation, or surrounding
// whitespace map to the same key.
package normalize

import (
	"strings"

	"github.com/tallyline/tallyline/pkg/types"
)

// Normalize converts a raw identifier to its canonical key: trim whitespace,
// lower-case, strip hyphens and underscores, truncate to the fixed comparison
// length. An empty or all-separator input yields the zero key.
func Normalize(raw string) types.CanonicalKey {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '-', '_':
			// stripped
		case ' ', '\t', '\n', '\r':
			// embedded whitespace is formatting noise, same as separators
		default:
			b.WriteRune(toLower(r))
		}
	}

	key := b.String()
	if len(key) > types.KeyLength {
		key = key[:types.KeyLength]
	}
	return types.CanonicalKey(key)
}

// DeriveKey applies the documented identifier precedence: the
// payload-embedded transaction id is preferred, the session identifier is
// the fallback. Returns false only when neither yields a usable key; that
// record has no identity at all and belongs in quarantine.
func DeriveKey(transactionID, sessionID string) (types.CanonicalKey, bool) {
	if key := Normalize(transactionID); !key.IsZero() {
		return key, true
	}
	if key := Normalize(sessionID); !key.IsZero() {
		return key, true
	}
	return "", false
}

// toLower lowers ASCII letters without pulling in unicode case tables;
// identifiers in both feeds are ASCII (UUIDs, session tokens).
func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
