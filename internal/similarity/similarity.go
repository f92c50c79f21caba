package similarity

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	lexicalPrefixWeight = 0.5
	lexicalCharWeight   = 0.3
	lexicalLengthWeight = 0.2
)

// Cosine returns the cosine similarity of two embedding vectors clamped to
// [0,1]. Missing, zero-norm, or mismatched vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Lexical scores orthographic closeness of two names from their shared
// prefix, the Jaccard overlap of their character sets, and their length
// ratio. Comparison is case-insensitive and rune based.
func Lexical(a, b string) float64 {
	left := []rune(strings.ToLower(strings.TrimSpace(a)))
	right := []rune(strings.ToLower(strings.TrimSpace(b)))
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	if string(left) == string(right) {
		return 1
	}

	minLen := min(len(left), len(right))
	maxLen := max(len(left), len(right))

	prefix := 0
	for prefix < minLen && left[prefix] == right[prefix] {
		prefix++
	}

	return lexicalPrefixWeight*float64(prefix)/float64(minLen) +
		lexicalCharWeight*runeSetJaccard(left, right) +
		lexicalLengthWeight*float64(minLen)/float64(maxLen)
}

func runeSetJaccard(left, right []rune) float64 {
	leftSet := make(map[rune]struct{}, len(left))
	for _, r := range left {
		leftSet[r] = struct{}{}
	}
	rightSet := make(map[rune]struct{}, len(right))
	for _, r := range right {
		rightSet[r] = struct{}{}
	}

	shared := 0
	for r := range leftSet {
		if _, ok := rightSet[r]; ok {
			shared++
		}
	}
	union := len(leftSet) + len(rightSet) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// IsSubstring reports whether either name contains the other, ignoring case.
func IsSubstring(a, b string) bool {
	left := strings.ToLower(strings.TrimSpace(a))
	right := strings.ToLower(strings.TrimSpace(b))
	if left == "" || right == "" {
		return false
	}
	return strings.Contains(left, right) || strings.Contains(right, left)
}

// NormalizedLevenshtein returns 1 - editDistance/maxLen over lowercased
// runes; identical names score 1 and an empty name scores 0.
func NormalizedLevenshtein(a, b string) float64 {
	left := strings.ToLower(a)
	right := strings.ToLower(b)
	if left == right {
		if left == "" {
			return 0
		}
		return 1
	}

	maxLen := max(utf8.RuneCountInString(left), utf8.RuneCountInString(right))
	if utf8.RuneCountInString(left) == 0 || utf8.RuneCountInString(right) == 0 {
		return 0
	}

	distance := levenshtein.ComputeDistance(left, right)
	return 1 - float64(distance)/float64(maxLen)
}
