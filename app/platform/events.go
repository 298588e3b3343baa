package platform

import (
	"context"

	e "nuclight.org/gatekeeper/pkg/entities"
)

type Event interface {
	Guild() string
}

type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event)
}

type MemberJoined struct {
	Member e.Member
}

type MemberUpdated struct {
	Before *e.Member
	After  e.Member
}

type MessageCreated struct {
	Message e.Message
}

type ReactionAdded struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
}

type ButtonPressed struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	ButtonID  string
}

func (ev MemberJoined) Guild() string   { return ev.Member.GuildID }
func (ev MemberUpdated) Guild() string  { return ev.After.GuildID }
func (ev MessageCreated) Guild() string { return ev.Message.GuildID }
func (ev ReactionAdded) Guild() string  { return ev.GuildID }
func (ev ButtonPressed) Guild() string  { return ev.GuildID }
