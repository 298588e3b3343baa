package reports

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// DefaultVocabulary is the set of chat-client words the locator keys on.
var DefaultVocabulary = []string{
	"today", "yesterday", "this", "the", "beginning", "of", "your", "direct",
	"message", "history", "with", "at",
}

// common OCR confusions on chat screenshots
var ocrReplacements = []string{
	"t0day", "today",
	"tociay", "today",
	"todav", "today",
	"a.m.", "am",
	"p.m.", "pm",
	"：", ":",
	"|", "l",
}

// Corrector rewrites a transcript so that the locator markers survive small
// OCR mistakes.
type Corrector struct {
	Vocabulary []string
	replacer   *strings.Replacer
}

func NewCorrector(vocabulary []string) *Corrector {
	if vocabulary == nil {
		vocabulary = DefaultVocabulary
	}

	return &Corrector{
		Vocabulary: vocabulary,
		replacer:   strings.NewReplacer(ocrReplacements...),
	}
}

// Correct replaces known confusions, then snaps every word of at least four
// letters to a vocabulary word within edit distance 1 (2 for words of seven
// letters or more). Line breaks are preserved.
func (c *Corrector) Correct(text string) string {
	text = c.replacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		words := strings.Fields(line)
		for j, w := range words {
			words[j] = c.correctWord(w)
		}
		lines[i] = strings.Join(words, " ")
	}

	return strings.Join(lines, "\n")
}

func (c *Corrector) correctWord(w string) string {
	if len(w) < 4 || strings.IndexFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
		return w
	}

	limit := 1
	if len(w) >= 7 {
		limit = 2
	}

	best, bestDist := w, limit+1
	for _, v := range c.Vocabulary {
		if v == w {
			return w
		}
		if d := levenshtein.ComputeDistance(w, v); d < bestDist {
			best, bestDist = v, d
		}
	}

	return best
}
