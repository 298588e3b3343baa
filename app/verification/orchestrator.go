// Package verification drives a joining member from admission through the
// trust score or captcha to the verified role.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nuclight.org/gatekeeper/app/captcha"
	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/state"
	"nuclight.org/gatekeeper/app/tasks"
	"nuclight.org/gatekeeper/app/trust"
	"nuclight.org/gatekeeper/app/verifylog"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
)

const (
	DefaultRoleBuffer = 30 * time.Second
	DefaultWindow     = 5 * time.Minute
	DefaultWarnAfter  = 2 * time.Minute

	ReasonExpired = "Timed out awaiting verification"
)

type Admitter interface {
	Check(ctx context.Context, member e.Member, policy *e.GuildPolicy) (e.Action, error)
}

type Scorer interface {
	Score(ctx context.Context, member e.Member) (float64, trust.Signals, error)
}

type Challenger interface {
	Run(ctx context.Context, member e.Member, policy *e.GuildPolicy) (captcha.Result, error)
}

type ImpersonationChecker interface {
	CheckImpersonation(ctx context.Context, member e.Member, policy *e.GuildPolicy) error
}

type Journal interface {
	Record(ctx context.Context, policy *e.GuildPolicy, member e.Member, kind verifylog.Kind, detail string)
}

type Actions interface {
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Member(ctx context.Context, guildID, userID string) (e.Member, error)
	Members(ctx context.Context, guildID string) ([]e.Member, error)
	SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error)
}

// Orchestrator owns the verification lifecycle. The pending set in State is
// the single source of truth for "verification in flight": a member is added
// before scoring and removed only after the final role change or escalation.
type Orchestrator struct {
	Log           logger.Logger
	State         *state.State
	Admission     Admitter
	Scorer        Scorer
	Captcha       Challenger
	Impersonation ImpersonationChecker
	Actions       Actions
	Journal       Journal
	Tasks         *tasks.Group
	Metrics       *metrics.Metrics

	RoleBuffer time.Duration
	Window     time.Duration
	WarnAfter  time.Duration
}

// HandleJoin runs the whole join flow for a new member.
func (o *Orchestrator) HandleJoin(ctx context.Context, member e.Member) error {
	if member.Bot {
		return nil
	}

	log := o.Log.With("guild_id", member.GuildID, "user_id", member.ID)

	policy, ok := o.State.Policy(member.GuildID)
	if !ok {
		log.Debug("join in unconfigured guild")
		return nil
	}

	act, err := o.Admission.Check(ctx, member, policy)
	if err != nil {
		log.Error("admission check", "error", err)
	}
	if !act.IsNoop() {
		return nil
	}

	if o.Impersonation != nil && policy.DuplicateNameDetection {
		if err = o.Impersonation.CheckImpersonation(ctx, member, policy); err != nil {
			log.Error("checking duplicate name", "error", err)
		}
	}

	if !policy.CaptchaEnabled {
		return nil
	}

	if !member.HasRole(policy.TemporaryRoleID) {
		if err = o.Actions.AddRole(ctx, member.GuildID, member.ID, policy.TemporaryRoleID); err != nil {
			o.reportFailure(ctx, policy, member, "adding temporary role", err)
		}
	}

	o.startWatcher(ctx, member, policy)

	if member.Screening {
		log.Info("waiting for membership screening")
		return nil
	}

	return o.begin(ctx, member, policy)
}

// HandleMemberUpdate starts verification once the platform's membership
// screening is completed.
func (o *Orchestrator) HandleMemberUpdate(ctx context.Context, before *e.Member, after e.Member) error {
	if after.Bot || before == nil || !before.Screening || after.Screening {
		return nil
	}

	policy, ok := o.State.Policy(after.GuildID)
	if !ok || !policy.CaptchaEnabled || after.HasRole(policy.VerifiedRoleID) {
		return nil
	}

	return o.begin(ctx, after, policy)
}

func (o *Orchestrator) begin(ctx context.Context, member e.Member, policy *e.GuildPolicy) error {
	key := member.Key()
	log := o.Log.With("guild_id", member.GuildID, "user_id", member.ID)

	if !o.State.Pending.Add(key) {
		log.Debug("verification already in progress")
		return nil
	}

	o.Journal.Record(ctx, policy, member, verifylog.KindStarted, "")

	score, sig, err := o.Scorer.Score(ctx, member)
	if err != nil {
		log.Warn("scoring member", "error", err)
	}
	log.Info("member scored", "score", score, "default_avatar", sig.DefaultAvatar, "wordlist", sig.WordlistName, "messages", sig.Messages)

	if score < trust.AutoPassThreshold {
		o.Journal.Record(ctx, policy, member, verifylog.KindAutoVerified, fmt.Sprintf("score %.2f", score))
		o.Metrics.IncVerification("auto_passed")
		return o.complete(ctx, member, policy)
	}

	res, err := o.Captcha.Run(ctx, member, policy)
	switch {
	case res.Outcome == captcha.OutcomePassed:
		o.Journal.Record(ctx, policy, member, verifylog.KindCompleted, fmt.Sprintf("attempt %d", res.Attempts))
		o.Metrics.IncVerification("passed")
		return o.complete(ctx, member, policy)

	case res.Outcome == captcha.OutcomeEscalated:
		o.State.Pending.Remove(key)
		o.Metrics.IncVerification("escalated")
		if err != nil {
			return fmt.Errorf("escalating failed captcha: %w", err)
		}
		return nil

	default:
		o.State.Pending.Remove(key)
		return fmt.Errorf("running captcha: %w", err)
	}
}

// complete waits RoleBuffer and swaps the temporary role for the verified
// one. The member leaves the pending set only afterwards, and is marked as
// completing for the whole time so the watcher does not expire them.
func (o *Orchestrator) complete(ctx context.Context, member e.Member, policy *e.GuildPolicy) error {
	key := member.Key()
	o.State.Completing.Add(key)
	defer o.State.Completing.Remove(key)
	defer o.State.Pending.Remove(key)

	if !sleep(ctx, durationOr(o.RoleBuffer, DefaultRoleBuffer)) {
		return ctx.Err()
	}

	if err := o.Actions.RemoveRole(ctx, member.GuildID, member.ID, policy.TemporaryRoleID); err != nil {
		o.reportFailure(ctx, policy, member, "removing temporary role", err)
	}

	if err := o.Actions.AddRole(ctx, member.GuildID, member.ID, policy.VerifiedRoleID); err != nil {
		o.reportFailure(ctx, policy, member, "adding verified role", err)
		return fmt.Errorf("adding verified role: %w", err)
	}

	return nil
}

func (o *Orchestrator) reportFailure(ctx context.Context, policy *e.GuildPolicy, member e.Member, what string, err error) {
	o.Log.Error(what, "guild_id", member.GuildID, "user_id", member.ID, "error", err)

	if policy.LogChannelID == "" {
		return
	}

	msg := platform.CardMessage(platform.Card{
		Title:       "Verification error",
		Description: fmt.Sprintf("Failed %s for %s: %v", what, member.Mention(), err),
		Color:       platform.ColorRed,
		Timestamp:   time.Now(),
	})
	if _, sendErr := o.Actions.SendMessage(ctx, policy.LogChannelID, msg); sendErr != nil {
		o.Log.Warn("sending verification error", "error", sendErr)
	}
}

// Wait blocks until background watchers and sweep tasks are done.
func (o *Orchestrator) Wait() {
	o.Tasks.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func isGone(err error) bool {
	return errors.Is(err, platform.ErrNotFound)
}
