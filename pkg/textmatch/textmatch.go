// Package textmatch holds the fuzzy string helpers shared by name checks and
// username resolution.
package textmatch

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/mozillazg/go-unidecode"
)

// Transliterate maps a string to its closest ASCII form.
func Transliterate(s string) string {
	return unidecode.Unidecode(s)
}

// IsASCII reports whether s contains only ASCII runes.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// LettersOnlyLower drops everything but letters and lower-cases the rest.
func LettersOnlyLower(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// Similarity returns an edit-distance ratio in [0,1], 1 meaning equal.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}

	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

type Match struct {
	Value string
	Index int
	Score float64
}

// CloseMatches returns up to n options whose similarity to word is at least
// cutoff, best first. Ties keep the options order.
func CloseMatches(word string, options []string, n int, cutoff float64) []Match {
	var res []Match
	for i, opt := range options {
		score := Similarity(word, opt)
		if score >= cutoff {
			res = append(res, Match{Value: opt, Index: i, Score: score})
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Score > res[j].Score
	})

	if n > 0 && len(res) > n {
		res = res[:n]
	}

	return res
}
