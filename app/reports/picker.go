package reports

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/waiter"
)

const (
	EmojiFirst   = "⏮️"
	EmojiPrev    = "⬅️"
	EmojiConfirm = "✅"
	EmojiCancel  = "❌"
	EmojiNext    = "➡️"
	EmojiLast    = "⏭️"

	DefaultPickTimeout = 300 * time.Second
)

// NotPicked is returned by Pick when the moderator cancels or runs out of time.
const NotPicked = -1

var pickerEmojis = []string{EmojiFirst, EmojiPrev, EmojiConfirm, EmojiCancel, EmojiNext, EmojiLast}

type PickerActions interface {
	SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg platform.Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
}

// Picker lets a moderator page through members with reactions and choose one.
type Picker struct {
	Log       logger.Logger
	Actions   PickerActions
	Reactions *waiter.Hub[platform.ReactionAdded]
	Timeout   time.Duration
}

// Pick shows members one per page and returns the chosen index or NotPicked.
func (p *Picker) Pick(ctx context.Context, channelID, userID string, members []e.Member) (int, error) {
	if len(members) == 0 {
		return NotPicked, nil
	}

	sub := p.Reactions.Subscribe(func(ev platform.ReactionAdded) bool {
		return ev.ChannelID == channelID && ev.UserID == userID && slices.Contains(pickerEmojis, ev.Emoji)
	})
	defer sub.Close()

	page := 0
	msgID, err := p.Actions.SendMessage(ctx, channelID, pickerPage(members, page))
	if err != nil {
		return NotPicked, fmt.Errorf("sending picker: %w", err)
	}
	defer func() {
		if err := p.Actions.DeleteMessage(context.WithoutCancel(ctx), channelID, msgID); err != nil {
			p.Log.Warn("deleting picker", "error", err)
		}
	}()

	for _, emoji := range pickerEmojis {
		if err = p.Actions.AddReaction(ctx, channelID, msgID, emoji); err != nil {
			return NotPicked, fmt.Errorf("adding picker reaction: %w", err)
		}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPickTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		ev, err := sub.NextUntil(ctx, deadline)
		if errors.Is(err, waiter.ErrTimeout) {
			return NotPicked, nil
		}
		if err != nil {
			return NotPicked, err
		}
		if ev.MessageID != msgID {
			continue
		}

		if err = p.Actions.RemoveReaction(ctx, channelID, msgID, ev.Emoji, userID); err != nil {
			p.Log.Debug("removing picker reaction", "error", err)
		}

		next := page
		switch ev.Emoji {
		case EmojiConfirm:
			return page, nil
		case EmojiCancel:
			return NotPicked, nil
		case EmojiFirst:
			next = 0
		case EmojiLast:
			next = len(members) - 1
		case EmojiPrev:
			next = (page - 1 + len(members)) % len(members)
		case EmojiNext:
			next = (page + 1) % len(members)
		}

		if next == page {
			continue
		}
		page = next

		if err = p.Actions.EditMessage(ctx, channelID, msgID, pickerPage(members, page)); err != nil {
			p.Log.Warn("turning picker page", "error", err)
		}
	}
}

func pickerPage(members []e.Member, page int) platform.Message {
	m := members[page]
	return platform.CardMessage(platform.Card{
		Description: fmt.Sprintf("%s (%s)\n\nIf this is the correct member, press the %s reaction below.\n"+
			"If not, use the arrows to browse other members with similar names.\n\n"+
			"If no members are correct, use the %s.", m.Mention(), m.Name, EmojiConfirm, EmojiCancel),
		Color:         platform.ColorBlue,
		AuthorName:    m.Display(),
		AuthorIconURL: m.AvatarURL,
		ThumbnailURL:  m.AvatarURL,
		Footer:        fmt.Sprintf("Match %d/%d", page+1, len(members)),
	})
}
