// Package discord adapts a discordgo session to the platform interfaces.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/pkg/logger"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentMessageContent

type Client struct {
	Log     logger.Logger
	Token   string
	Handler platform.EventHandler

	session *discordgo.Session
	ctx     context.Context
}

// NewREST returns a client that only talks to the REST API, for tools that
// never open the gateway.
func NewREST(log logger.Logger, token string) (*Client, error) {
	c := &Client{Log: log, Token: token}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) init() error {
	session, err := discordgo.New("Bot " + c.Token)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	session.Identify.Intents = intents
	session.State.TrackMembers = false

	c.session = session
	return nil
}

// Start opens the gateway connection. Events are delivered to Handler with ctx.
func (c *Client) Start(ctx context.Context) error {
	if err := c.init(); err != nil {
		return err
	}

	session := c.session
	c.ctx = ctx

	session.AddHandler(c.onReady)
	session.AddHandler(c.onMemberAdd)
	session.AddHandler(c.onMemberUpdate)
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onReactionAdd)
	session.AddHandler(c.onInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}

	return nil
}

func (c *Client) Stop() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

func (c *Client) onReady(_ *discordgo.Session, ev *discordgo.Ready) {
	c.Log.Info("gateway ready", "username", ev.User.Username, "guilds", len(ev.Guilds))
}

func (c *Client) onMemberAdd(_ *discordgo.Session, ev *discordgo.GuildMemberAdd) {
	if ev.Member == nil || ev.User == nil {
		return
	}

	c.Handler.HandleEvent(c.ctx, platform.MemberJoined{Member: c.member(ev.GuildID, ev.Member)})
}

func (c *Client) onMemberUpdate(_ *discordgo.Session, ev *discordgo.GuildMemberUpdate) {
	if ev.Member == nil || ev.User == nil {
		return
	}

	update := platform.MemberUpdated{After: c.member(ev.GuildID, ev.Member)}
	if ev.BeforeUpdate != nil && ev.BeforeUpdate.User != nil {
		before := c.member(ev.GuildID, ev.BeforeUpdate)
		update.Before = &before
	}

	c.Handler.HandleEvent(c.ctx, update)
}

func (c *Client) onMessageCreate(_ *discordgo.Session, ev *discordgo.MessageCreate) {
	if ev.Message == nil || ev.Author == nil || ev.GuildID == "" {
		return
	}

	c.Handler.HandleEvent(c.ctx, platform.MessageCreated{Message: c.message(ev.Message)})
}

func (c *Client) onReactionAdd(_ *discordgo.Session, ev *discordgo.MessageReactionAdd) {
	if ev.MessageReaction == nil || ev.GuildID == "" {
		return
	}

	c.Handler.HandleEvent(c.ctx, platform.ReactionAdded{
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		UserID:    ev.UserID,
		Emoji:     ev.Emoji.Name,
	})
}

func (c *Client) onInteraction(s *discordgo.Session, ev *discordgo.InteractionCreate) {
	if ev.Interaction == nil || ev.Type != discordgo.InteractionMessageComponent {
		return
	}

	err := s.InteractionRespond(ev.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		c.Log.Warn("acknowledging interaction", "interaction_id", ev.ID, "error", err)
	}

	c.Handler.HandleEvent(c.ctx, buttonPressed(ev.Interaction))
}

func buttonPressed(i *discordgo.Interaction) platform.ButtonPressed {
	ev := platform.ButtonPressed{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		ButtonID:  i.MessageComponentData().CustomID,
	}

	if i.Message != nil {
		ev.MessageID = i.Message.ID
	}

	switch {
	case i.Member != nil && i.Member.User != nil:
		ev.UserID = i.Member.User.ID
	case i.User != nil:
		ev.UserID = i.User.ID
	}

	return ev
}
