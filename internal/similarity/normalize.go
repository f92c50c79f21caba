package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName lowercases, strips diacritics, and collapses every run of
// characters outside [a-z0-9] into one space.
func NormalizeName(raw string) string {
	lowered := strings.ToLower(raw)
	// Transformers carry state, so the chain is built per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// NormalizeKeyToken is NormalizeName with "-" as the separator, the form
// used in stable key signatures.
func NormalizeKeyToken(raw string) string {
	return strings.ReplaceAll(NormalizeName(raw), " ", "-")
}
