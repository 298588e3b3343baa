package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/textmatch"
)

const DefaultImpersonationCutoff = 0.85

// CheckImpersonation raises a duplicate-name card when a joining member's
// display name resembles a staff member's account name.
func (w *Workflow) CheckImpersonation(ctx context.Context, member e.Member, policy *e.GuildPolicy) error {
	if policy.DuplicateReportChannelID == "" || policy.MinStaffRoleID == "" {
		return nil
	}

	role, err := w.Actions.Role(ctx, member.GuildID, policy.MinStaffRoleID)
	if err != nil {
		return fmt.Errorf("getting staff role: %w", err)
	}

	members, err := w.Actions.Members(ctx, member.GuildID)
	if errors.Is(err, platform.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}

	var staff []string
	for _, m := range members {
		if m.Bot || m.ID == member.ID || m.TopRolePosition < role.Position {
			continue
		}
		staff = append(staff, m.Name)
	}

	cutoff := w.ImpersonationCutoff
	if cutoff <= 0 {
		cutoff = DefaultImpersonationCutoff
	}

	matches := textmatch.CloseMatches(member.Display(), staff, closeMatches, cutoff)
	if len(matches) == 0 {
		return nil
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Value
	}

	w.Log.Info("possible impersonation", "guild_id", member.GuildID, "user_id", member.ID, "name", member.Display(), "staff", names)

	report := e.Report{
		Kind:        e.ReportKindDuplicate,
		State:       e.ReportOpen,
		GuildID:     member.GuildID,
		ChannelID:   policy.DuplicateReportChannelID,
		CandidateID: member.ID,
		Candidates:  []string{member.ID},
		Transcript:  strings.Join(names, ", "),
		CreatedAt:   w.now(),
	}

	return w.postReport(ctx, report, &member)
}
