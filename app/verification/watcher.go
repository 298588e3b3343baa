package verification

import (
	"context"
	"fmt"

	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/verifylog"
	e "nuclight.org/gatekeeper/pkg/entities"
)

func (o *Orchestrator) startWatcher(ctx context.Context, member e.Member, policy *e.GuildPolicy) {
	key := member.Key()
	if !o.State.Watchers.Add(key) {
		return
	}

	o.Tasks.Go("verification-watcher", func() {
		defer o.State.Watchers.Remove(key)
		o.watch(ctx, member, policy)
	})
}

// watch warns an unverified member who has not started after WarnAfter and
// kicks them once the verification window is over.
func (o *Orchestrator) watch(ctx context.Context, member e.Member, policy *e.GuildPolicy) {
	log := o.Log.With("guild_id", member.GuildID, "user_id", member.ID)

	window := durationOr(o.Window, DefaultWindow)
	warnAfter := min(durationOr(o.WarnAfter, DefaultWarnAfter), window)

	if !sleep(ctx, warnAfter) {
		return
	}

	if done, err := o.settled(ctx, member, policy); done || err != nil {
		if err != nil {
			log.Warn("checking verification state", "error", err)
		}
		return
	}

	left := window - warnAfter
	if policy.CaptchaChannelID != "" && !o.State.Pending.Has(member.Key()) {
		warning := platform.Message{
			Content: member.Mention(),
			Card: &platform.Card{
				Title:       "Verification reminder",
				Description: fmt.Sprintf("You have %d minutes left to verify before you are removed.", int(left.Minutes())),
				Color:       platform.ColorOrange,
			},
		}
		if _, err := o.Actions.SendMessage(ctx, policy.CaptchaChannelID, warning); err != nil {
			log.Warn("sending verification reminder", "error", err)
		}
	}

	if !sleep(ctx, left) {
		return
	}

	done, err := o.settled(ctx, member, policy)
	if err != nil {
		log.Warn("checking verification state", "error", err)
		return
	}
	if done {
		return
	}

	o.Journal.Record(ctx, policy, member, verifylog.KindExpired, "")
	o.Metrics.IncVerification("expired")

	if err = o.Actions.Kick(ctx, member.GuildID, member.ID, ReasonExpired); err != nil {
		o.reportFailure(ctx, policy, member, "kicking expired member", err)
	}

	o.State.Pending.Remove(member.Key())
}

// settled reports whether the member left, holds the verified role, or has
// passed and is waiting for it.
func (o *Orchestrator) settled(ctx context.Context, member e.Member, policy *e.GuildPolicy) (bool, error) {
	if o.State.Completing.Has(member.Key()) {
		return true, nil
	}

	current, err := o.Actions.Member(ctx, member.GuildID, member.ID)
	if isGone(err) {
		o.State.Pending.Remove(member.Key())
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return current.HasRole(policy.VerifiedRoleID), nil
}
