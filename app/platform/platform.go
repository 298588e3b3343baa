// Package platform describes what the moderation core needs from a chat
// platform. Adapters live in app/discord and app/telegram.
package platform

import (
	"context"
	"errors"
	"time"

	e "nuclight.org/gatekeeper/pkg/entities"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrUnsupported = errors.New("not supported by platform")
)

// Actions is the outbound side of a platform adapter.
type Actions interface {
	SelfID() string

	Ban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	Member(ctx context.Context, guildID, userID string) (e.Member, error)
	Members(ctx context.Context, guildID string) ([]e.Member, error)
	Role(ctx context.Context, guildID, roleID string) (e.Role, error)

	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)
	SendDM(ctx context.Context, userID string, msg Message) error
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	ClearReactions(ctx context.Context, channelID, messageID string) error
}

type Message struct {
	Content string
	Card    *Card
	Buttons [][]Button
}

type Card struct {
	Title         string
	Description   string
	Color         int
	ImageURL      string
	ThumbnailURL  string
	AuthorName    string
	AuthorIconURL string
	Footer        string
	Timestamp     time.Time
	Fields        []Field
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

type Button struct {
	ID       string
	Label    string
	Style    ButtonStyle
	Disabled bool
}

const (
	ColorRed    = 0xe74c3c
	ColorGreen  = 0x2ecc71
	ColorOrange = 0xe67e22
	ColorBlue   = 0x3498db
	ColorGrey   = 0x95a5a6
	ColorTeal   = 0x1abc9c
	ColorPurple = 0x9b59b6
	ColorGold   = 0xf1c40f
)

// CardMessage wraps a card into a message.
func CardMessage(c Card) Message {
	return Message{Card: &c}
}

func TextMessage(text string) Message {
	return Message{Content: text}
}
