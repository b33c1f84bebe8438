package questions

import (
	"html"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanText decodes HTML entities, as served by Open Trivia DB, and trims
// surrounding whitespace.
func CleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}

// Key returns the identity of a question text. Texts that differ only in
// entity encoding, accents, case or spacing map to the same key.
func Key(text string) string {
	s := html.UnescapeString(text)

	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
