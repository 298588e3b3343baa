package admission

import (
	"context"
	"fmt"

	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
)

var admit = e.Action{
	Kind: e.ActionKindNoop,
	Note: "",
}

// Detection is a positive result of a single check.
type Detection struct {
	Action e.Action
	Log    platform.Card
	DM     *platform.Message
}

// Check inspects a joining member. A nil detection means the member passes.
type Check interface {
	Name() string
	Inspect(ctx context.Context, member e.Member, policy *e.GuildPolicy) (*Detection, error)
}

type Actions interface {
	Ban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error)
	SendDM(ctx context.Context, userID string, msg platform.Message) error
}

// Checker runs the admission checks in order and stops at the first one that
// detects something. Each detection is logged to the guild's log channel and
// DMed to the member before the ban or kick; delivery failures never prevent
// the action.
type Checker struct {
	Log     logger.Logger
	Actions Actions
	Checks  []Check
	Metrics *metrics.Metrics
}

// Check returns the action taken. When applying the action fails, the action
// is still returned together with the error.
func (c *Checker) Check(ctx context.Context, member e.Member, policy *e.GuildPolicy) (e.Action, error) {
	log := c.Log.With("guild_id", member.GuildID, "user_id", member.ID)

	for _, check := range c.Checks {
		det, err := check.Inspect(ctx, member, policy)
		if err != nil {
			log.Error("running admission check", "check", check.Name(), "error", err)
			continue
		}

		if det == nil {
			continue
		}

		log.Info("admission check matched", "check", check.Name(), "action", det.Action.Kind, "note", det.Action.Note)
		c.Metrics.IncAdmission(string(det.Action.Kind), check.Name())

		return det.Action, c.apply(ctx, log, member, policy, det)
	}

	c.Metrics.IncAdmission(string(e.ActionKindNoop), "")
	return admit, nil
}

func (c *Checker) apply(ctx context.Context, log logger.Logger, member e.Member, policy *e.GuildPolicy, det *Detection) error {
	if policy.LogChannelID != "" {
		if _, err := c.Actions.SendMessage(ctx, policy.LogChannelID, platform.CardMessage(det.Log)); err != nil {
			log.Warn("sending admission log", "error", err)
		}
	}

	if det.DM != nil {
		if err := c.Actions.SendDM(ctx, member.ID, *det.DM); err != nil {
			log.Warn("sending admission dm", "error", err)
		}
	}

	var err error
	switch det.Action.Kind {
	case e.ActionKindBan:
		err = c.Actions.Ban(ctx, member.GuildID, member.ID, det.Action.Note)
	case e.ActionKindKick:
		err = c.Actions.Kick(ctx, member.GuildID, member.ID, det.Action.Note)
	default:
		return fmt.Errorf("unknown action kind: %s", det.Action.Kind)
	}
	if err != nil {
		return fmt.Errorf("applying %s: %w", det.Action.Kind, err)
	}

	return nil
}
