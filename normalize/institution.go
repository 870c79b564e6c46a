package normalize

import (
	"strings"
	"unicode"
)

// Generic words that carry no identity: "Test University" and "The Test
// College" are the same institution.
var institutionStopwords = map[string]struct{}{
	"the":        {},
	"of":         {},
	"university": {},
	"college":    {},
	"school":     {},
	"institute":  {},
	"state":      {},
}

// Institution reduces an institution label to its matchable core: lowercase,
// punctuation stripped, generic stopwords removed, whitespace collapsed. Two
// labels name the same institution iff their normalized forms are equal.
func Institution(name string) string {
	lowered := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, name)
	var keep []string
	for _, w := range strings.Fields(lowered) {
		if _, skip := institutionStopwords[w]; skip {
			continue
		}
		keep = append(keep, w)
	}
	return strings.Join(keep, " ")
}
