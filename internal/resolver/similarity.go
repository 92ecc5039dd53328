package resolver

import (
	"strings"

	"github.com/agext/levenshtein"
)

// Similarity scores two normalized names in [0,1] as an even blend of
// edit-distance ratio and word-set Jaccard overlap. The blend exists to
// reject near-miss spellings of unrelated brands: single-word names one
// letter apart score high on edit distance alone but share no words, so
// they land well below the match floor.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return 0.5*levenshtein.Similarity(a, b, nil) + 0.5*jaccard(a, b)
}

// jaccard computes word-set overlap on whitespace-tokenized names.
func jaccard(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}

	union := len(wordsA)
	for w := range wordsB {
		if !wordsA[w] {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
