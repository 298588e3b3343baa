// Package verifylog posts verification progress lines to a guild's verify
// log channel.
package verifylog

import (
	"context"
	"fmt"
	"time"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
)

type Kind string

const (
	KindStarted      Kind = "started"
	KindTimeout      Kind = "timeout"
	KindRetry        Kind = "retry"
	KindCompleted    Kind = "completed"
	KindAutoVerified Kind = "auto_verified"
	KindFailed       Kind = "failed"
	KindExpired      Kind = "expired"
)

var kindLines = map[Kind]struct {
	emoji string
	text  string
	color int
}{
	KindStarted:      {"📥", "started verification", platform.ColorBlue},
	KindTimeout:      {"⏰", "let a captcha attempt time out", platform.ColorOrange},
	KindRetry:        {"🔄", "answered a captcha wrong and got a new one", platform.ColorOrange},
	KindCompleted:    {"✅", "completed verification", platform.ColorGreen},
	KindAutoVerified: {"🤖", "was verified automatically", platform.ColorGreen},
	KindFailed:       {"📤", "failed verification", platform.ColorRed},
	KindExpired:      {"❌", "did not verify in time", platform.ColorRed},
}

type Sender interface {
	SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error)
}

// Journal never fails the caller; delivery errors are only logged.
type Journal struct {
	Log     logger.Logger
	Actions Sender
}

func (j *Journal) Record(ctx context.Context, policy *e.GuildPolicy, member e.Member, kind Kind, detail string) {
	j.Log.Info("verification event", "guild_id", member.GuildID, "user_id", member.ID, "kind", kind, "detail", detail)

	if policy == nil || policy.VerifyLogChannelID == "" {
		return
	}

	_, err := j.Actions.SendMessage(ctx, policy.VerifyLogChannelID, platform.CardMessage(Line(member, kind, detail)))
	if err != nil {
		j.Log.Warn("sending verify log", "user_id", member.ID, "error", err)
	}
}

// Line renders a single verify log entry.
func Line(member e.Member, kind Kind, detail string) platform.Card {
	l, ok := kindLines[kind]
	if !ok {
		l.emoji, l.text, l.color = "ℹ️", string(kind), platform.ColorGrey
	}

	desc := fmt.Sprintf("%s %s (%s) %s", l.emoji, member.Mention(), member.Name, l.text)
	if detail != "" {
		desc += "\n" + detail
	}

	return platform.Card{
		Description: desc,
		Color:       l.color,
		Footer:      "User ID: " + member.ID,
		Timestamp:   time.Now(),
	}
}
