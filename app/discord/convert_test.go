package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuclight.org/gatekeeper/app/platform"
)

type eventRecorder struct {
	events []platform.Event
}

func (r *eventRecorder) HandleEvent(_ context.Context, ev platform.Event) {
	r.events = append(r.events, ev)
}

func newTestClient(t *testing.T) (*Client, *eventRecorder) {
	t.Helper()

	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{
		ID: "g1",
		Roles: []*discordgo.Role{
			{ID: "r-low", Position: 2},
			{ID: "r-mod", Position: 7},
		},
	}))

	rec := &eventRecorder{}
	return &Client{
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Handler: rec,
		session: &discordgo.Session{State: state},
		ctx:     context.Background(),
	}, rec
}

func TestMemberFromDiscord(t *testing.T) {
	since := time.Now()
	m := memberFromDiscord("g1", &discordgo.Member{
		Nick:         "Nick",
		PremiumSince: &since,
		Pending:      true,
		Roles:        []string{"r-low"},
		User: &discordgo.User{
			ID:            "175928847299117063",
			Username:      "alice",
			GlobalName:    "Alice",
			Discriminator: "0",
			PublicFlags:   discordgo.UserFlagHypeSquadEvents,
		},
	})

	assert.Equal(t, "175928847299117063", m.ID)
	assert.Equal(t, "alice", m.Name)
	assert.Equal(t, "Nick", m.DisplayName)
	assert.True(t, m.HasDefaultAvatar())
	assert.True(t, m.Premium)
	assert.True(t, m.Screening)
	assert.NotZero(t, m.Flags)
	assert.Equal(t, 2016, m.CreatedAt.Year())
}

func TestDefaultAvatarIndex(t *testing.T) {
	assert.Equal(t, 3, defaultAvatarIndex(&discordgo.User{ID: "1", Discriminator: "1238"}))
	assert.Equal(t, int((uint64(175928847299117063)>>22)%6), defaultAvatarIndex(&discordgo.User{ID: "175928847299117063", Discriminator: "0"}))
}

func TestClient_TopRolePosition(t *testing.T) {
	c, rec := newTestClient(t)

	c.onMemberAdd(nil, &discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: "g1",
		Roles:   []string{"r-low", "r-mod", "r-gone"},
		User:    &discordgo.User{ID: "1", Username: "mod"},
	}})

	require.Len(t, rec.events, 1)
	joined := rec.events[0].(platform.MemberJoined)
	assert.Equal(t, 7, joined.Member.TopRolePosition)
}

func TestClient_MemberUpdate(t *testing.T) {
	c, rec := newTestClient(t)
	user := &discordgo.User{ID: "1", Username: "u"}

	c.onMemberUpdate(nil, &discordgo.GuildMemberUpdate{
		Member:       &discordgo.Member{GuildID: "g1", User: user},
		BeforeUpdate: &discordgo.Member{GuildID: "g1", User: user, Pending: true},
	})

	require.Len(t, rec.events, 1)
	upd := rec.events[0].(platform.MemberUpdated)
	require.NotNil(t, upd.Before)
	assert.True(t, upd.Before.Screening)
	assert.False(t, upd.After.Screening)
}

func TestClient_MessageCreate(t *testing.T) {
	c, rec := newTestClient(t)

	c.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "look",
		Author:    &discordgo.User{ID: "1", Username: "u", Avatar: "abc"},
		Member:    &discordgo.Member{Roles: []string{"r-mod"}},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.test/a.png", Filename: "a.png", ContentType: "image/png"},
		},
	}})
	c.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{ID: "dm", Author: &discordgo.User{ID: "1"}}})

	require.Len(t, rec.events, 1)
	msg := rec.events[0].(platform.MessageCreated).Message
	assert.Equal(t, "c1", msg.ChannelID)
	assert.Equal(t, 7, msg.Author.TopRolePosition)
	assert.NotEmpty(t, msg.Author.AvatarURL)

	img, ok := msg.FirstImage()
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/a.png", img.URL)
}

func TestClient_ReactionAdd(t *testing.T) {
	c, rec := newTestClient(t)

	c.onReactionAdd(nil, &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		UserID:    "u1",
		Emoji:     discordgo.Emoji{Name: "✅"},
	}})

	require.Len(t, rec.events, 1)
	assert.Equal(t, platform.ReactionAdded{GuildID: "g1", ChannelID: "c1", MessageID: "m1", UserID: "u1", Emoji: "✅"}, rec.events[0])
}

func TestButtonPressed(t *testing.T) {
	ev := buttonPressed(&discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   "g1",
		ChannelID: "c1",
		Message:   &discordgo.Message{ID: "m1"},
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "captcha:x:1:2"},
	})

	assert.Equal(t, platform.ButtonPressed{GuildID: "g1", ChannelID: "c1", MessageID: "m1", UserID: "u1", ButtonID: "captcha:x:1:2"}, ev)
}

func TestMessageSend(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	send := messageSend(platform.Message{
		Content: "hello",
		Card: &platform.Card{
			Title:     "Report",
			Color:     platform.ColorRed,
			ImageURL:  "https://img.test/x.png",
			Footer:    "Match 1/2",
			Timestamp: ts,
			Fields:    []platform.Field{{Name: "User ID", Value: "1", Inline: true}},
		},
		Buttons: [][]platform.Button{{{ID: "a", Label: "A", Style: platform.ButtonDanger}}, {}},
	})

	assert.Equal(t, "hello", send.Content)
	require.Len(t, send.Embeds, 1)
	assert.Equal(t, "https://img.test/x.png", send.Embeds[0].Image.URL)
	assert.Equal(t, "Match 1/2", send.Embeds[0].Footer.Text)
	assert.Equal(t, "2024-05-01T12:00:00Z", send.Embeds[0].Timestamp)
	assert.Nil(t, send.Embeds[0].Thumbnail)

	require.Len(t, send.Components, 1)
	row := send.Components[0].(discordgo.ActionsRow)
	assert.Equal(t, discordgo.DangerButton, row.Components[0].(discordgo.Button).Style)
}

func TestMessageEdit_ClearsEmbedsAndComponents(t *testing.T) {
	edit := messageEdit("c1", "m1", platform.TextMessage("done"))

	require.NotNil(t, edit.Content)
	assert.Equal(t, "done", *edit.Content)
	require.NotNil(t, edit.Embeds)
	assert.Empty(t, *edit.Embeds)
	require.NotNil(t, edit.Components)
	assert.Empty(t, *edit.Components)
}

func TestMapError(t *testing.T) {
	restErr := func(status, code int) error {
		return &discordgo.RESTError{
			Response: &http.Response{StatusCode: status},
			Message:  &discordgo.APIErrorMessage{Code: code},
		}
	}
	plain := errors.New("boom")

	assert.ErrorIs(t, mapError(restErr(http.StatusForbidden, codeMissingPermissions)), platform.ErrForbidden)
	assert.ErrorIs(t, mapError(restErr(http.StatusNotFound, codeUnknownMember)), platform.ErrNotFound)
	assert.ErrorIs(t, mapError(restErr(http.StatusBadRequest, codeUnknownMessage)), platform.ErrNotFound)
	assert.Equal(t, plain, mapError(plain))
}
