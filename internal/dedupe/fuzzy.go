package dedupe

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// similar reports whether two normalized values of the same contact type are
// close enough to flag as possible duplicates. Exact matches are handled
// earlier; this only catches near-misses.
func similar(t contact.ContactType, a, b string, threshold float64) bool {
	if a == b {
		return false
	}
	if t == contact.TypePhone && trunkPrefixVariant(a, b) {
		return true
	}
	return levenshteinSimilarity(a, b) >= threshold
}

func levenshteinSimilarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, levenshtein.NewParams())
}

// trunkPrefixVariant matches normalized phones that differ only by one extra
// digit after the country code, the classic trunk-prefix mistake
// (+49891234567 vs +490891234567).
func trunkPrefixVariant(a, b string) bool {
	da := strings.TrimPrefix(a, "+")
	db := strings.TrimPrefix(b, "+")
	if len(da) == len(db) {
		return false
	}
	if len(da) > len(db) {
		da, db = db, da
	}
	if len(db)-len(da) != 1 {
		return false
	}
	// Same tail, one extra digit somewhere in the prefix.
	for cut := 1; cut < len(db); cut++ {
		if db[:cut-1]+db[cut:] == da {
			return true
		}
	}
	return false
}
