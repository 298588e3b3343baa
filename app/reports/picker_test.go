package reports

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/platform/platformtest"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/waiter"
)

func isPickerPage(s platformtest.Sent) bool {
	return s.Message.Card != nil && strings.HasPrefix(s.Message.Card.Footer, "Match ")
}

func react(hub *waiter.Hub[platform.ReactionAdded], s platformtest.Sent, userID string, emojis ...string) {
	for _, emoji := range emojis {
		hub.Publish(platform.ReactionAdded{GuildID: "g1", ChannelID: s.ChannelID, MessageID: s.MessageID, UserID: userID, Emoji: emoji})
	}
}

var choices = []e.Member{
	{ID: "a", GuildID: "g1", Name: "alpha"},
	{ID: "b", GuildID: "g1", Name: "beta"},
	{ID: "c", GuildID: "g1", Name: "gamma"},
}

func newPicker(fake *platformtest.Fake, hub *waiter.Hub[platform.ReactionAdded]) *Picker {
	return &Picker{Log: testLogger(), Actions: fake, Reactions: hub, Timeout: time.Second}
}

func TestPicker_Navigate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fake := platformtest.NewFake("bot")
	hub := &waiter.Hub[platform.ReactionAdded]{}
	fake.OnSend = func(s platformtest.Sent) {
		if isPickerPage(s) {
			// someone else's reaction is ignored
			react(hub, s, "intruder", EmojiConfirm)
			react(hub, s, "mod", EmojiNext, EmojiNext, EmojiNext, EmojiPrev, EmojiConfirm)
		}
	}

	idx, err := newPicker(fake, hub).Pick(context.Background(), "reports", "mod", choices)
	require.NoError(t, err)
	// 0 -> 1 -> 2 -> 0 (wraps) -> 2 (wraps back)
	assert.Equal(t, 2, idx)

	sent := fake.SentTo("reports")
	require.Len(t, sent, 1)
	assert.Equal(t, "Match 1/3", sent[0].Message.Card.Footer)
	assert.Len(t, fake.Edits(sent[0].MessageID), 4)
	assert.Equal(t, pickerEmojis, fake.Reactions(sent[0].MessageID))
	assert.Contains(t, fake.Deleted(), sent[0].MessageID)
	assert.Zero(t, hub.Len())
}

func TestPicker_FirstLast(t *testing.T) {
	fake := platformtest.NewFake("bot")
	hub := &waiter.Hub[platform.ReactionAdded]{}
	fake.OnSend = func(s platformtest.Sent) {
		react(hub, s, "mod", EmojiLast, EmojiFirst, EmojiLast, EmojiConfirm)
	}

	idx, err := newPicker(fake, hub).Pick(context.Background(), "reports", "mod", choices)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestPicker_Cancel(t *testing.T) {
	fake := platformtest.NewFake("bot")
	hub := &waiter.Hub[platform.ReactionAdded]{}
	fake.OnSend = func(s platformtest.Sent) {
		react(hub, s, "mod", EmojiCancel)
	}

	idx, err := newPicker(fake, hub).Pick(context.Background(), "reports", "mod", choices)
	require.NoError(t, err)
	assert.Equal(t, NotPicked, idx)
}

func TestPicker_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fake := platformtest.NewFake("bot")
	hub := &waiter.Hub[platform.ReactionAdded]{}
	p := newPicker(fake, hub)
	p.Timeout = 20 * time.Millisecond

	idx, err := p.Pick(context.Background(), "reports", "mod", choices)
	require.NoError(t, err)
	assert.Equal(t, NotPicked, idx)
	assert.Len(t, fake.Deleted(), 1)
}

func TestPicker_Empty(t *testing.T) {
	fake := platformtest.NewFake("bot")
	idx, err := newPicker(fake, &waiter.Hub[platform.ReactionAdded]{}).Pick(context.Background(), "reports", "mod", nil)
	require.NoError(t, err)
	assert.Equal(t, NotPicked, idx)
	assert.Empty(t, fake.Methods())
}
