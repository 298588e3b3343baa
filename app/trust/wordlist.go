package trust

import (
	"bufio"
	_ "embed"
	"strings"
)

//go:embed wordlist/adjectives.txt
var adjectivesFile string

//go:embed wordlist/nouns.txt
var nounsFile string

// Wordlist recognizes platform-generated "AdjectiveNoun1234" account names.
type Wordlist struct {
	adjectives map[string]struct{}
	nouns      map[string]struct{}
}

func DefaultWordlist() *Wordlist {
	return NewWordlist(splitLines(adjectivesFile), splitLines(nounsFile))
}

func NewWordlist(adjectives, nouns []string) *Wordlist {
	return &Wordlist{
		adjectives: lowerSet(adjectives),
		nouns:      lowerSet(nouns),
	}
}

// Match reports whether name is a known adjective and noun, each capitalized,
// followed by at least one digit.
func (w *Wordlist) Match(name string) bool {
	base := strings.TrimRight(name, "0123456789")
	if base == name || base == "" {
		return false
	}

	split := -1
	for i := 0; i < len(base); i++ {
		ch := base[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
			if i == 0 {
				continue
			}
			if split != -1 {
				return false
			}
			split = i
		case ch >= 'a' && ch <= 'z':
		default:
			return false
		}
	}

	if split == -1 || base[0] < 'A' || base[0] > 'Z' {
		return false
	}

	_, adj := w.adjectives[strings.ToLower(base[:split])]
	_, noun := w.nouns[strings.ToLower(base[split:])]

	return adj && noun
}

func splitLines(s string) []string {
	var res []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			res = append(res, line)
		}
	}
	return res
}

func lowerSet(words []string) map[string]struct{} {
	res := make(map[string]struct{}, len(words))
	for _, w := range words {
		res[strings.ToLower(w)] = struct{}{}
	}
	return res
}
