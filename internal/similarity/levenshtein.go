// Package similarity scores how alike two strings are using edit distance.
package similarity

import "strings"

// DefaultTitleThreshold is the score a title must exceed to count as a near duplicate.
const DefaultTitleThreshold = 0.85

// Distance returns the Levenshtein edit distance between a and b, counting
// insertions, deletions and substitutions at cost 1. Strings are compared rune by rune.
func Distance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	matrix := make([][]int, len(ra)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(rb)+1)
		matrix[i][0] = i
	}
	for j := 0; j <= len(rb); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}

	return matrix[len(ra)][len(rb)]
}

// Score returns 1 - distance/max(len(a), len(b)), a value in [0, 1].
// Two empty strings score 1; one empty string scores 0. Case and
// whitespace are significant.
func Score(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}
	return 1 - float64(Distance(a, b))/float64(longest)
}

// IsSimilarTitle lowercases title and reports whether its score against any
// entry of others is strictly above threshold. Entries of others are expected
// to be lowercased already.
func IsSimilarTitle(title string, others []string, threshold float64) bool {
	_, ok := FindSimilarTitle(title, others, threshold)
	return ok
}

// FindSimilarTitle is IsSimilarTitle that also returns the first matching entry.
func FindSimilarTitle(title string, others []string, threshold float64) (string, bool) {
	lowered := strings.ToLower(title)
	for _, other := range others {
		if Score(lowered, other) > threshold {
			return other, true
		}
	}
	return "", false
}
