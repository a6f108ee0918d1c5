package normalize

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genIdentifier generates identifiers from the alphabet both feeds use:
// hex digits, as in UUIDs and session tokens.
func genIdentifier() gopter.Gen {
	return gen.SliceOfN(12, gen.RuneRange('a', 'f')).Map(func(rs []rune) string {
		return string(rs)
	})
}

// mangle reintroduces the formatting noise the feeds produce: random casing,
// hyphens every few characters, surrounding whitespace.
func mangle(id string, upper bool, hyphens bool, pad bool) string {
	var b strings.Builder
	for i, r := range id {
		if hyphens && i > 0 && i%4 == 0 {
			b.WriteRune('-')
		}
		if upper {
			b.WriteRune(toUpper(r))
		} else {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if pad {
		s = "  " + s + "\t"
	}
	return s
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

func TestProperty_NormalizationEquivalence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("formatting variants normalize to the same key", prop.ForAll(
		func(id string, upper, hyphens, pad bool) bool {
			return Normalize(id) == Normalize(mangle(id, upper, hyphens, pad))
		},
		genIdentifier(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(id string) bool {
			once := Normalize(id)
			return Normalize(once.String()) == once
		},
		genIdentifier(),
	))

	properties.Property("normalization is total over arbitrary strings", prop.ForAll(
		func(s string) bool {
			// Must not panic, and must be deterministic.
			return Normalize(s) == Normalize(s)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
