package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
	e "nuclight.org/gatekeeper/pkg/entities"
)

type counterStub struct {
	n   int
	err error
}

func (c counterStub) MessageCount(context.Context, e.MemberKey) (int, error) {
	return c.n, c.err
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newScorer(messages int) *Scorer {
	return &Scorer{
		Words:    DefaultWordlist(),
		Messages: counterStub{n: messages},
		Now:      func() time.Time { return now },
	}
}

func TestScorer_FreshWordlistAccountNeedsCaptcha(t *testing.T) {
	m := e.Member{
		ID:        "u1",
		GuildID:   "g1",
		Name:      "HappyPenguin42",
		CreatedAt: now.Add(-2 * 24 * time.Hour),
	}

	score, sig, err := newScorer(0).Score(context.Background(), m)
	require.NoError(t, err)

	assert.True(t, sig.DefaultAvatar)
	assert.True(t, sig.WordlistName)
	assert.InDelta(t, 26*CreationDayWeight, sig.CreationScore, 1e-9)
	assert.InDelta(t, NoFlagsWeight, sig.FlagsScore, 1e-9)
	assert.InDelta(t, LowMessagesWeight, sig.MessageScore, 1e-9)
	assert.Equal(t, MaxScore, score)
	assert.GreaterOrEqual(t, score, AutoPassThreshold)
}

func TestScorer_EstablishedMemberAutoPasses(t *testing.T) {
	m := e.Member{
		Name:      "longtimer",
		AvatarURL: "https://cdn.example/a.png",
		CreatedAt: now.Add(-400 * 24 * time.Hour),
	}

	score, sig, err := newScorer(150).Score(context.Background(), m)
	require.NoError(t, err)
	assert.Zero(t, sig.MessageScore)
	assert.Zero(t, score)
	assert.Less(t, score, AutoPassThreshold)
}

func TestScorer_QuietOldAccountWithAvatar(t *testing.T) {
	m := e.Member{
		Name:      "lurker",
		AvatarURL: "https://cdn.example/a.png",
		CreatedAt: now.Add(-400 * 24 * time.Hour),
		Flags:     1 << 6,
	}

	score, _, err := newScorer(3).Score(context.Background(), m)
	require.NoError(t, err)
	assert.InDelta(t, LowMessagesWeight, score, 1e-9)
}

func TestScorer_PremiumScoresZero(t *testing.T) {
	m := e.Member{Name: "HappyPenguin42", Premium: true, CreatedAt: now}

	score, _, err := newScorer(0).Score(context.Background(), m)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestScorer_CounterFailureScoresAsSilent(t *testing.T) {
	s := newScorer(0)
	s.Messages = counterStub{n: 500, err: errors.New("db locked")}

	m := e.Member{Name: "x", AvatarURL: "a", CreatedAt: now.Add(-400 * 24 * time.Hour), Flags: 1}
	score, sig, err := s.Score(context.Background(), m)
	require.Error(t, err)
	assert.Zero(t, sig.Messages)
	assert.InDelta(t, LowMessagesWeight, score, 1e-9)
}

func TestCreationScore(t *testing.T) {
	assert.InDelta(t, 28*CreationDayWeight, CreationScore(0), 1e-9)
	assert.InDelta(t, 28*CreationDayWeight, CreationScore(-time.Hour), 1e-9)
	assert.InDelta(t, 27*CreationDayWeight, CreationScore(36*time.Hour), 1e-9)
	assert.Zero(t, CreationScore(28*24*time.Hour))
	assert.Zero(t, CreationScore(1000*24*time.Hour))
}

func TestWordlist_Match(t *testing.T) {
	w := DefaultWordlist()

	tests := []struct {
		name string
		want bool
	}{
		{"HappyPenguin42", true},
		{"SwiftFalcon7", true},
		{"HappyPenguin", false},
		{"happyPenguin42", false},
		{"HappyPENGUIN42", false},
		{"Happypenguin42", false},
		{"HappyPenguinFox42", false},
		{"Happy_Penguin42", false},
		{"ChairTable42", false},
		{"42", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, w.Match(tt.name), tt.name)
	}
}

func TestProperty_ScoreBoundedAndMonotoneInAge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property test in short mode")
	}

	rapid.Check(t, func(t *rapid.T) {
		sig := Signals{
			DefaultAvatar: rapid.Bool().Draw(t, "default_avatar"),
			WordlistName:  rapid.Bool().Draw(t, "wordlist"),
			Premium:       rapid.Bool().Draw(t, "premium"),
		}
		if rapid.Bool().Draw(t, "no_flags") {
			sig.FlagsScore = NoFlagsWeight
		}
		if rapid.Bool().Draw(t, "silent") {
			sig.MessageScore = LowMessagesWeight
		}

		younger := time.Duration(rapid.Int64Range(0, int64(60*24*time.Hour)).Draw(t, "age"))
		older := younger + time.Duration(rapid.Int64Range(0, int64(60*24*time.Hour)).Draw(t, "delta"))

		a, b := sig, sig
		a.CreationScore = CreationScore(younger)
		b.CreationScore = CreationScore(older)

		sa, sb := a.Combine(), b.Combine()
		if sa < 0 || sa > MaxScore || sb < 0 || sb > MaxScore {
			t.Fatalf("score out of range: %v %v", sa, sb)
		}
		if sb > sa {
			t.Fatalf("older account scored higher: %v > %v", sb, sa)
		}
	})
}
