// Package trust scores how suspicious a joining member looks. Members scoring
// below AutoPassThreshold skip the captcha.
package trust

import (
	"context"
	"fmt"
	"math"
	"time"

	e "nuclight.org/gatekeeper/pkg/entities"
)

const (
	DefaultAvatarWeight  = 20.27
	WordlistWeight       = 63.81
	CreationDayWeight    = 2.63
	CreationWindowDays   = 28
	NoFlagsWeight        = 11.11
	LowMessagesWeight    = 34.92
	LowMessagesThreshold = 20

	AutoPassThreshold = 25.0
	MaxScore          = 100.0
)

type Signals struct {
	DefaultAvatar bool
	WordlistName  bool
	Premium       bool
	Messages      int

	CreationScore float64
	FlagsScore    float64
	MessageScore  float64
}

// Combine folds signals into a score in [0, MaxScore]. A member who has
// spoken enough and carries no risk flag scores zero, as does a premium member.
func (s Signals) Combine() float64 {
	if s.Premium {
		return 0
	}

	if s.MessageScore == 0 && !s.DefaultAvatar && !s.WordlistName {
		return 0
	}

	score := s.CreationScore + s.FlagsScore + s.MessageScore
	if s.DefaultAvatar {
		score += DefaultAvatarWeight
	}
	if s.WordlistName {
		score += WordlistWeight
	}

	return math.Min(math.Max(score, 0), MaxScore)
}

// CreationScore is 2.63 per whole day the account is younger than four weeks.
func CreationScore(age time.Duration) float64 {
	days := int(max(age, 0) / (24 * time.Hour))
	remaining := max(CreationWindowDays-days, 0)
	return float64(remaining) * CreationDayWeight
}

type MessageCounter interface {
	MessageCount(ctx context.Context, key e.MemberKey) (int, error)
}

type Scorer struct {
	Words    *Wordlist
	Messages MessageCounter
	Now      func() time.Time
}

// Score computes the member's suspicion score. When the message count cannot
// be read the member is scored as silent and the error is returned alongside.
func (s *Scorer) Score(ctx context.Context, member e.Member) (float64, Signals, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	sig := Signals{
		DefaultAvatar: member.HasDefaultAvatar(),
		WordlistName:  s.Words != nil && s.Words.Match(member.Name),
		Premium:       member.Premium,
	}

	if !member.CreatedAt.IsZero() {
		sig.CreationScore = CreationScore(now().Sub(member.CreatedAt))
	}

	if member.Flags == 0 {
		sig.FlagsScore = NoFlagsWeight
	}

	var countErr error
	if s.Messages != nil {
		sig.Messages, countErr = s.Messages.MessageCount(ctx, member.Key())
		if countErr != nil {
			sig.Messages = 0
			countErr = fmt.Errorf("getting message count: %w", countErr)
		}
	}

	if sig.Messages < LowMessagesThreshold {
		sig.MessageScore = LowMessagesWeight
	}

	return sig.Combine(), sig, countErr
}
