// Package similarity scores approximate textual overlap between two inputs.
// It backs the cache's deduplication decisions and text search filtering.
package similarity

import "strings"

// Score returns the Jaccard similarity of the word-token sets of a and b:
// |intersection| / |union| over case-folded, whitespace-split tokens.
// Two empty inputs score 0 by convention.
func Score(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
