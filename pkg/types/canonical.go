package types

// CanonicalKey is the normalized, comparable form of a transaction
// identifier. Two keys refer to the same transaction iff they are equal.
// It carries no identity beyond its string value.
type CanonicalKey string

// KeyLength is the fixed comparison length for canonical keys. Identifiers
// longer than this are truncated after normalization; shorter ones are kept
// as-is (padding would manufacture spurious equality between short ids).
const KeyLength = 32

// IsZero reports whether the key is empty.
func (k CanonicalKey) IsZero() bool {
	return k == ""
}

// String returns the key's string value.
func (k CanonicalKey) String() string {
	return string(k)
}
