// Package identity holds the pure duplicate-detection rules used by the
// contact deduplication job.
package identity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// NameThreshold is the minimum name similarity for two contacts to be
// treated as the same person.
const NameThreshold = 0.8

// Similarity returns 1 - editDistance(a, b) / max(len(a), len(b)),
// compared case-insensitively. Two empty strings are identical.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return float64(longest-d) / float64(longest)
}
