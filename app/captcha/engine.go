// Package captcha runs the grid puzzle challenge for members that did not
// pass verification automatically.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/verifylog"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/waiter"
)

const (
	MaxAttempts = 3

	DefaultAttemptTimeout  = 90 * time.Second
	DefaultEscalationGrace = 15 * time.Second

	buttonPrefix = "captcha:"
	refreshID    = "refresh"
)

type Outcome string

const (
	OutcomePassed    Outcome = "passed"
	OutcomeEscalated Outcome = "escalated"
)

type Result struct {
	Outcome  Outcome
	Attempts int
	Reason   string
}

type Actions interface {
	SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg platform.Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendDM(ctx context.Context, userID string, msg platform.Message) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
}

type Journal interface {
	Record(ctx context.Context, policy *e.GuildPolicy, member e.Member, kind verifylog.Kind, detail string)
}

type Engine struct {
	Log     logger.Logger
	Actions Actions
	Buttons *waiter.Hub[platform.ButtonPressed]
	Journal Journal
	Metrics *metrics.Metrics

	AttemptTimeout  time.Duration
	EscalationGrace time.Duration
	Rows            int
	SolutionLength  int

	// Rand returns the generator for one session; nil uses a random seed.
	Rand func() *rand.Rand
	Now  func() time.Time
}

// Run challenges the member with up to MaxAttempts puzzles. Wrong answers and
// timeouts both consume an attempt. When every attempt is used up the member
// is told, and after EscalationGrace removed according to the guild policy.
// An error is returned only when the challenge could not be carried out.
func (en *Engine) Run(ctx context.Context, member e.Member, policy *e.GuildPolicy) (Result, error) {
	if policy.CaptchaChannelID == "" {
		return Result{}, fmt.Errorf("guild %s has no captcha channel", policy.GuildID)
	}

	log := en.Log.With("guild_id", member.GuildID, "user_id", member.ID)
	rng := en.rng()
	token := strconv.FormatUint(rng.Uint64(), 36)

	sub := en.Buttons.Subscribe(func(b platform.ButtonPressed) bool {
		return b.UserID == member.ID && strings.HasPrefix(b.ButtonID, buttonPrefix+token+":")
	})
	defer sub.Close()

	s := &session{
		en:      en,
		member:  member,
		policy:  policy,
		channel: policy.CaptchaChannelID,
		token:   token,
		rng:     rng,
	}

	lastFailure := ""
	for n := 1; n <= MaxAttempts; n++ {
		att := NewAttempt(n, s.newPuzzle(), en.now().Add(en.attemptTimeout()))

		if err := s.present(ctx, att); err != nil {
			return Result{Attempts: n}, fmt.Errorf("presenting attempt %d: %w", n, err)
		}

		status, err := s.solve(ctx, sub, att)
		if err != nil {
			return Result{Attempts: n}, err
		}

		switch status {
		case StatusPassed:
			log.Info("captcha passed", "attempt", n)
			en.Metrics.IncCaptchaAttempt("passed")
			s.finish(ctx, platform.Card{
				Title:       "Verification passed",
				Description: fmt.Sprintf("%s you are verified, welcome!", member.Mention()),
				Color:       platform.ColorGreen,
			})
			return Result{Outcome: OutcomePassed, Attempts: n}, nil

		case StatusExpired:
			lastFailure = "timeout"
			en.Metrics.IncCaptchaAttempt("timeout")
			en.Journal.Record(ctx, policy, member, verifylog.KindTimeout, fmt.Sprintf("attempt %d/%d", n, MaxAttempts))

		default:
			lastFailure = "wrong answer"
			en.Metrics.IncCaptchaAttempt("wrong")
			if n < MaxAttempts {
				en.Journal.Record(ctx, policy, member, verifylog.KindRetry, fmt.Sprintf("attempt %d/%d", n, MaxAttempts))
			}
		}

		log.Info("captcha attempt failed", "attempt", n, "reason", lastFailure)
	}

	reason := fmt.Sprintf("Failed captcha %d/%d attempts (last: %s)", MaxAttempts, MaxAttempts, lastFailure)
	res := Result{Outcome: OutcomeEscalated, Attempts: MaxAttempts, Reason: reason}

	return res, s.escalate(ctx, reason)
}

func (en *Engine) rng() *rand.Rand {
	if en.Rand != nil {
		return en.Rand()
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (en *Engine) now() time.Time {
	if en.Now != nil {
		return en.Now()
	}
	return time.Now()
}

func (en *Engine) attemptTimeout() time.Duration {
	if en.AttemptTimeout > 0 {
		return en.AttemptTimeout
	}
	return DefaultAttemptTimeout
}

func (en *Engine) escalationGrace() time.Duration {
	if en.EscalationGrace > 0 {
		return en.EscalationGrace
	}
	return DefaultEscalationGrace
}

type session struct {
	en      *Engine
	member  e.Member
	policy  *e.GuildPolicy
	channel string
	token   string
	rng     *rand.Rand

	messageID string
}

func (s *session) newPuzzle() Puzzle {
	rows, length := s.en.Rows, s.en.SolutionLength
	if rows <= 0 {
		rows = DefaultRows
	}
	if length <= 0 {
		length = DefaultSolutionLength
	}
	return NewPuzzle(s.rng, length, rows)
}

// present posts a fresh message for the attempt and drops the previous one.
func (s *session) present(ctx context.Context, att *Attempt) error {
	prev := s.messageID

	id, err := s.en.Actions.SendMessage(ctx, s.channel, render(s.member, att, s.token))
	if err != nil {
		return err
	}
	s.messageID = id

	if prev != "" {
		if err = s.en.Actions.DeleteMessage(ctx, s.channel, prev); err != nil {
			s.en.Log.Debug("deleting previous captcha", "error", err)
		}
	}

	return nil
}

func (s *session) solve(ctx context.Context, sub *waiter.Subscription[platform.ButtonPressed], att *Attempt) (Status, error) {
	for {
		ev, err := sub.NextUntil(ctx, att.Deadline)
		if errors.Is(err, waiter.ErrTimeout) {
			att.Expire()
			return att.Status(), nil
		}
		if err != nil {
			return "", err
		}

		refresh, row, col, ok := parseButton(ev.ButtonID, s.token)
		if !ok {
			continue
		}

		if refresh {
			if att.Reissue(s.newPuzzle()) {
				s.update(ctx, att)
			}
			continue
		}

		status := att.Select(row, col, s.en.now())
		if status == StatusSolving {
			s.update(ctx, att)
			continue
		}

		return status, nil
	}
}

func (s *session) update(ctx context.Context, att *Attempt) {
	if err := s.en.Actions.EditMessage(ctx, s.channel, s.messageID, render(s.member, att, s.token)); err != nil {
		s.en.Log.Debug("updating captcha", "error", err)
	}
}

func (s *session) finish(ctx context.Context, card platform.Card) {
	if err := s.en.Actions.EditMessage(ctx, s.channel, s.messageID, platform.CardMessage(card)); err != nil {
		s.en.Log.Debug("finishing captcha", "error", err)
	}
}

func (s *session) escalate(ctx context.Context, reason string) error {
	grace := s.en.escalationGrace()

	s.en.Journal.Record(ctx, s.policy, s.member, verifylog.KindFailed, reason)

	notice := platform.Card{
		Title: "Verification failed",
		Description: fmt.Sprintf(
			"%s you have exceeded the attempt limit and will be removed in %d seconds.",
			s.member.Mention(), int(grace.Seconds()),
		),
		Color: platform.ColorRed,
	}
	s.finish(ctx, notice)

	if err := s.en.Actions.SendDM(ctx, s.member.ID, platform.CardMessage(notice)); err != nil {
		s.en.Log.Debug("sending escalation dm", "error", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(grace):
	}

	var err error
	if s.policy.EscalationAction == e.EscalationBan {
		err = s.en.Actions.Ban(ctx, s.member.GuildID, s.member.ID, reason)
	} else {
		err = s.en.Actions.Kick(ctx, s.member.GuildID, s.member.ID, reason)
	}
	if err != nil {
		return fmt.Errorf("removing member after failed captcha: %w", err)
	}

	return nil
}

func buttonID(token string, row, col int) string {
	return fmt.Sprintf("%s%s:%d:%d", buttonPrefix, token, row, col)
}

func parseButton(id, token string) (refresh bool, row, col int, ok bool) {
	rest, found := strings.CutPrefix(id, buttonPrefix+token+":")
	if !found {
		return false, 0, 0, false
	}

	if rest == refreshID {
		return true, 0, 0, true
	}

	r, c, found := strings.Cut(rest, ":")
	if !found {
		return false, 0, 0, false
	}

	row, err := strconv.Atoi(r)
	if err != nil {
		return false, 0, 0, false
	}
	col, err = strconv.Atoi(c)
	if err != nil {
		return false, 0, 0, false
	}

	return false, row, col, true
}

func render(member e.Member, att *Attempt, token string) platform.Message {
	p := att.Puzzle

	var picked strings.Builder
	for i := 0; i < att.Progress(); i++ {
		picked.WriteByte(p.Solution[i])
	}

	card := platform.Card{
		Title: fmt.Sprintf("Verification (attempt %d/%d)", att.Number, MaxAttempts),
		Description: "Pick the characters of the code below one column at a time, left to right. " +
			"A wrong pick uses up the attempt.",
		Color: platform.ColorBlue,
		Fields: []platform.Field{
			{Name: "Code", Value: p.Solution, Inline: true},
			{Name: "Picked", Value: picked.String() + strings.Repeat("_", p.Cols()-att.Progress()), Inline: true},
		},
		Footer:    fmt.Sprintf("Time limit: %s", time.Until(att.Deadline).Round(time.Second)),
		Timestamp: att.Deadline,
	}

	buttons := make([][]platform.Button, 0, p.Rows()+1)
	for row := 0; row < p.Rows(); row++ {
		line := make([]platform.Button, 0, p.Cols())
		for col := 0; col < p.Cols(); col++ {
			b := platform.Button{
				ID:    buttonID(token, row, col),
				Label: string(p.At(row, col)),
				Style: platform.ButtonSecondary,
			}
			if col < att.Progress() {
				b.Disabled = true
				if row == p.Positions[col] {
					b.Style = platform.ButtonSuccess
				}
			}
			line = append(line, b)
		}
		buttons = append(buttons, line)
	}

	buttons = append(buttons, []platform.Button{{
		ID:       buttonPrefix + token + ":" + refreshID,
		Label:    "New code",
		Style:    platform.ButtonPrimary,
		Disabled: att.Status() != StatusPending,
	}})

	return platform.Message{
		Content: member.Mention(),
		Card:    &card,
		Buttons: buttons,
	}
}
