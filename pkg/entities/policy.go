package entities

import (
	"slices"
	"time"
)

// AgeCheckDisabled disables the minimum account age check.
const AgeCheckDisabled time.Duration = -1

type EscalationAction string

const (
	EscalationKick EscalationAction = "kick"
	EscalationBan  EscalationAction = "ban"
)

// GuildPolicy is an immutable per-guild configuration snapshot. It is
// replaced wholesale, never mutated in place.
type GuildPolicy struct {
	GuildID   string
	GuildName string

	BannedNames           map[string]struct{}
	BannedNamesNormalized map[string]struct{}
	BannedPhotoHashes     map[string]struct{}

	MinAccountAge time.Duration

	CaptchaEnabled         bool
	DuplicateNameDetection bool
	EscalationAction       EscalationAction

	VerifiedRoleID  string
	TemporaryRoleID string
	MinStaffRoleID  string
	SuperAdminIDs   []string

	LogChannelID             string
	CaptchaChannelID         string
	VerifyLogChannelID       string
	SpamReportChannelID      string
	DuplicateReportChannelID string
	SupportChannelIDs        []string
}

func (p *GuildPolicy) IsSuperAdmin(userID string) bool {
	return slices.Contains(p.SuperAdminIDs, userID)
}

func (p *GuildPolicy) IsSupportChannel(channelID string) bool {
	return slices.Contains(p.SupportChannelIDs, channelID)
}

func (p *GuildPolicy) IsReportChannel(channelID string) bool {
	return channelID != "" && (channelID == p.SpamReportChannelID || channelID == p.DuplicateReportChannelID)
}

// WithBannedPhoto returns a copy of the policy with hash added to the banned photo set.
func (p *GuildPolicy) WithBannedPhoto(hash string) *GuildPolicy {
	cp := *p
	cp.BannedPhotoHashes = make(map[string]struct{}, len(p.BannedPhotoHashes)+1)
	for h := range p.BannedPhotoHashes {
		cp.BannedPhotoHashes[h] = struct{}{}
	}
	cp.BannedPhotoHashes[hash] = struct{}{}

	return &cp
}
