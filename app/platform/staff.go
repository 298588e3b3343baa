package platform

import (
	"context"
	"errors"
	"fmt"

	e "nuclight.org/gatekeeper/pkg/entities"
)

type StaffLookup interface {
	Member(ctx context.Context, guildID, userID string) (e.Member, error)
	Role(ctx context.Context, guildID, roleID string) (e.Role, error)
}

// Staff reports whether userID may moderate the guild: super admins always,
// otherwise members whose top role is at least the minimum staff role. The
// returned member is a stub carrying only the ID when userID is not a member.
func Staff(ctx context.Context, a StaffLookup, policy *e.GuildPolicy, userID string) (e.Member, bool, error) {
	m, err := a.Member(ctx, policy.GuildID, userID)
	missing := errors.Is(err, ErrNotFound)
	if err != nil && !missing {
		return e.Member{}, false, fmt.Errorf("getting member: %w", err)
	}
	if missing {
		m = e.Member{ID: userID, GuildID: policy.GuildID, Name: userID}
	}

	if policy.IsSuperAdmin(userID) {
		return m, true, nil
	}
	if missing || policy.MinStaffRoleID == "" {
		return m, false, nil
	}

	role, err := a.Role(ctx, policy.GuildID, policy.MinStaffRoleID)
	if err != nil {
		return m, false, fmt.Errorf("getting staff role: %w", err)
	}

	return m, m.TopRolePosition >= role.Position, nil
}
