package verification

import (
	"context"
	"errors"
	"fmt"

	"nuclight.org/gatekeeper/app/platform"
)

// Reconcile re-runs the join flow for members left holding the temporary
// role without the verified one, e.g. after a restart. It returns the number
// of members rescheduled.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	total := 0
	var errs []error

	for _, guildID := range o.State.GuildIDs() {
		policy, ok := o.State.Policy(guildID)
		if !ok || !policy.CaptchaEnabled {
			continue
		}

		members, err := o.Actions.Members(ctx, guildID)
		if errors.Is(err, platform.ErrUnsupported) {
			o.Log.Info("member listing unsupported, skipping sweep", "guild_id", guildID)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("listing members of %s: %w", guildID, err))
			continue
		}

		for _, m := range members {
			if m.Bot || !m.HasRole(policy.TemporaryRoleID) || m.HasRole(policy.VerifiedRoleID) {
				continue
			}

			total++
			o.Tasks.Go("verification-sweep", func() {
				if err := o.HandleJoin(ctx, m); err != nil {
					o.Log.Error("re-running join flow", "guild_id", m.GuildID, "user_id", m.ID, "error", err)
				}
			})
		}

		o.Log.Info("verification sweep scheduled", "guild_id", guildID, "members", total)
	}

	return total, errors.Join(errs...)
}
