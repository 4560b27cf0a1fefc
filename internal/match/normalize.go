package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var entitySuffixes = regexp.MustCompile(
	`(?i)\s*,?\s*(LLC|L\.?L\.?C\.?|INC\.?|INCORPORATED|CORP\.?|CORPORATION|` +
		`CO\.?|COMPANY|LTD\.?|LIMITED|L\.?P\.?|LLP|L\.?L\.?P\.?|` +
		`UNIV\.?|UNIVERSITY|FOUNDATION|TRUSTEES\s+OF)\s*\.?\s*$`)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// stripMarks removes combining diacritical marks after NFKD decomposition,
// so "Universität" and "Universitat" normalize identically.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName prepares a recipient or institution name for comparison:
// uppercase, diacritics folded, entity suffixes stripped, whitespace
// collapsed.
func NormalizeName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if folded, _, err := transform.String(stripMarks, n); err == nil {
		n = folded
	}
	n = entitySuffixes.ReplaceAllString(n, "")
	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// Similarity returns a trigram similarity in [0, 1] between two names after
// normalization: the ratio of shared trigrams to total distinct trigrams.
// Identical names score 1; names sharing no trigrams score 0.
func Similarity(a, b string) float64 {
	a = NormalizeName(a)
	b = NormalizeName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ta := trigrams(a)
	tb := trigrams(b)

	var shared int
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// trigrams returns the set of letter trigrams with pg_trgm-style word
// padding: two leading spaces and one trailing space per word.
func trigrams(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(s) {
		padded := "  " + word + " "
		r := []rune(padded)
		for i := 0; i+3 <= len(r); i++ {
			set[string(r[i:i+3])] = true
		}
	}
	return set
}
