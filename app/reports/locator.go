package reports

import (
	"regexp"
	"slices"
	"strings"
)

// Matcher extracts candidate usernames from a transcript. An empty result
// means the matcher's marker was not found.
type Matcher struct {
	Name string
	Find func(text string) []string
}

var (
	clock12h = regexp.MustCompile(`\d{1,2}:\d{2}\s(?:am|pm)`)
	postTime = regexp.MustCompile(`(?:\S+\s\S+)\s\d{1,2}:\d{2}`)
)

// DefaultMatchers cover the usual chat-client layouts: DM headers, "Today at"
// stamps, compact mode clocks and cozy mode post times.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Name: "beginning-of", Find: beforeMarker("this is the beginning of", firstLine)},
		{Name: "today-at", Find: beforeMarker("today at", lastLines)},
		{Name: "today", Find: beforeMarker("today", lastLines)},
		{Name: "clock-12h", Find: aroundPattern(clock12h, 1)},
		{Name: "post-time", Find: aroundPattern(postTime, 0)},
	}
}

// Locator finds the likely author name in a screenshot transcript.
type Locator struct {
	Matchers  []Matcher
	Corrector *Corrector
}

func NewLocator() *Locator {
	return &Locator{
		Matchers:  DefaultMatchers(),
		Corrector: NewCorrector(nil),
	}
}

// Locate returns candidate names, shortest first. When no matcher fires the
// transcript is corrected once and matching is retried.
func (l *Locator) Locate(text string) []string {
	res := l.match(text)
	if len(res) == 0 && l.Corrector != nil {
		res = l.match(l.Corrector.Correct(text))
	}

	res = dedupe(res)
	slices.SortStableFunc(res, func(a, b string) int { return len(a) - len(b) })

	return res
}

func (l *Locator) match(text string) []string {
	for _, m := range l.Matchers {
		if res := m.Find(text); len(res) > 0 {
			return res
		}
	}
	return nil
}

func beforeMarker(marker string, pick func([]string) []string) func(string) []string {
	return func(text string) []string {
		before, _, found := strings.Cut(text, marker)
		if !found {
			return nil
		}
		return pick(nonEmptyLines(before))
	}
}

func aroundPattern(re *regexp.Regexp, part int) func(string) []string {
	return func(text string) []string {
		loc := re.FindStringIndex(text)
		if loc == nil {
			return nil
		}

		segment := text[:loc[0]]
		if part == 1 {
			segment = text[loc[1]:]
		}

		lines := nonEmptyLines(segment)
		if len(lines) == 0 {
			return nil
		}

		res := []string{lines[0]}
		if len(lines) > 1 {
			res = append(res, wordPrefixes(lines[0])...)
			res = append(res, lines[0]+" "+lines[1])
		}
		return res
	}
}

func firstLine(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	return lines[:1]
}

func lastLines(lines []string) []string {
	n := len(lines)
	switch n {
	case 0:
		return nil
	case 1:
		return []string{lines[0]}
	}
	return []string{lines[n-1], lines[n-2] + " " + lines[n-1]}
}

// wordPrefixes returns "a", "a b", "a b c" for a multi-word line.
func wordPrefixes(line string) []string {
	words := strings.Fields(line)
	if len(words) < 2 {
		return nil
	}

	res := make([]string, 0, len(words))
	for i := range words {
		res = append(res, strings.Join(words[:i+1], " "))
	}
	return res
}

func nonEmptyLines(s string) []string {
	var res []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			res = append(res, line)
		}
	}
	return res
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	res := items[:0]
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		res = append(res, it)
	}
	return res
}
