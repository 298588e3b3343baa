package reports

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/textmatch"
)

const (
	DisplayNameCutoff    = 0.8
	TransliteratedCutoff = 0.65

	// matches kept per fuzzy lookup
	closeMatches = 3
)

type MemberDirectory interface {
	Members(ctx context.Context, guildID string) ([]e.Member, error)
}

type MessageCounter interface {
	MessageCount(ctx context.Context, key e.MemberKey) (int, error)
}

// Resolver maps candidate names to guild members.
type Resolver struct {
	Log      logger.Logger
	Members  MemberDirectory
	Messages MessageCounter
}

// Resolve looks every candidate up and returns the unique members found,
// least active first. A platform that cannot list members yields no result.
func (r *Resolver) Resolve(ctx context.Context, guildID string, candidates []string) ([]e.Member, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	members, err := r.Members.Members(ctx, guildID)
	if errors.Is(err, platform.ErrUnsupported) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}

	var found []e.Member
	for _, c := range candidates {
		found = append(found, lookup(c, members)...)
	}

	return r.rank(ctx, uniqueMembers(found)), nil
}

// Search resolves a name typed by a moderator: fuzzy display name first,
// then the transliterated account name.
func (r *Resolver) Search(ctx context.Context, guildID, input string) ([]e.Member, error) {
	members, err := r.Members.Members(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}

	found := fuzzyDisplay(input, members, closeMatches)
	if len(found) == 0 {
		found = fuzzyTransliterated(input, members)
	}

	return uniqueMembers(found), nil
}

func lookup(candidate string, members []e.Member) []e.Member {
	letters := textmatch.LettersOnlyLower(candidate)
	if letters != "" {
		for _, m := range members {
			if textmatch.LettersOnlyLower(m.Display()) == letters {
				return []e.Member{m}
			}
		}
	}

	if res := fuzzyDisplay(candidate, members, 1); len(res) > 0 {
		return res
	}

	return fuzzyTransliterated(candidate, members)
}

func fuzzyDisplay(name string, members []e.Member, n int) []e.Member {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = strings.ToLower(m.Display())
	}

	return pick(members, textmatch.CloseMatches(strings.ToLower(name), names, n, DisplayNameCutoff))
}

func fuzzyTransliterated(name string, members []e.Member) []e.Member {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = strings.ToLower(textmatch.Transliterate(m.Name))
	}

	return pick(members, textmatch.CloseMatches(strings.ToLower(name), names, closeMatches, TransliteratedCutoff))
}

func pick(members []e.Member, matches []textmatch.Match) []e.Member {
	res := make([]e.Member, 0, len(matches))
	for _, m := range matches {
		res = append(res, members[m.Index])
	}
	return res
}

// rank orders members by ascending message count. Members whose count
// cannot be read keep their position at the end.
func (r *Resolver) rank(ctx context.Context, members []e.Member) []e.Member {
	if r.Messages == nil || len(members) < 2 {
		return members
	}

	counts := make(map[string]int, len(members))
	for _, m := range members {
		n, err := r.Messages.MessageCount(ctx, m.Key())
		if err != nil {
			r.Log.Warn("reading message count", "user_id", m.ID, "error", err)
			n = math.MaxInt
		}
		counts[m.ID] = n
	}

	slices.SortStableFunc(members, func(a, b e.Member) int {
		return cmp.Compare(counts[a.ID], counts[b.ID])
	})

	return members
}

func uniqueMembers(members []e.Member) []e.Member {
	seen := make(map[string]struct{}, len(members))
	res := make([]e.Member, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		res = append(res, m)
	}
	return res
}
