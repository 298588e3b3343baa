package entities

import (
	"slices"
	"time"
)

type Member struct {
	ID      string
	GuildID string

	// Name is the unique account name, DisplayName the per-guild nickname (or Name if unset).
	Name        string
	DisplayName string

	// AvatarURL is empty when the member uses a platform default avatar;
	// DefaultAvatar then holds the default variant.
	AvatarURL     string
	DefaultAvatar string

	CreatedAt time.Time
	JoinedAt  time.Time

	Roles           []string
	TopRolePosition int

	Bot     bool
	Premium bool

	// Flags holds platform-assigned account flags, zero when none.
	Flags int64

	// Screening is true while the platform's membership screening is still pending.
	Screening bool
}

// Display returns the nickname, falling back to the account name.
func (m Member) Display() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

func (m Member) HasDefaultAvatar() bool {
	return m.AvatarURL == ""
}

func (m Member) HasRole(roleID string) bool {
	return roleID != "" && slices.Contains(m.Roles, roleID)
}

// Mention renders a platform-neutral reference to the member.
func (m Member) Mention() string {
	return "<@" + m.ID + ">"
}

func (m Member) Key() MemberKey {
	return MemberKey{GuildID: m.GuildID, MemberID: m.ID}
}

type MemberKey struct {
	GuildID  string
	MemberID string
}

func (k MemberKey) String() string {
	return k.GuildID + "/" + k.MemberID
}

type Role struct {
	ID       string
	Name     string
	Position int
}

// PhotoHash is a stored avatar hash of a guild member.
type PhotoHash struct {
	GuildID string
	UserID  string
	Hash    string
}
