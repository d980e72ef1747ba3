// Package choice declares the reply vocabulary for pending interactions and
// matches free-text replies against it.
package choice

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a reply so that "Não", " nao " and "NÃO!" compare equal.
// It trims, lowercases, strips diacritics, collapses inner whitespace and
// removes trailing periods and exclamation marks. A trailing question mark
// is kept: "sim?" asks something and must not confirm a posting.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	// transform.Chain is stateful, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err == nil {
		s = folded
	}

	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!")
}
