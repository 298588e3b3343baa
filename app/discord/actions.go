package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
)

const membersPage = 1000

var _ platform.Actions = (*Client)(nil)

func (c *Client) SelfID() string {
	if c.session == nil || c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *Client) Ban(ctx context.Context, guildID, userID, reason string) error {
	err := c.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating ban: %w", mapError(err))
	}
	return nil
}

func (c *Client) Kick(ctx context.Context, guildID, userID, reason string) error {
	err := c.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("kicking member: %w", mapError(err))
	}
	return nil
}

func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("adding role: %w", mapError(err))
	}
	return nil
}

func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("removing role: %w", mapError(err))
	}
	return nil
}

func (c *Client) Member(ctx context.Context, guildID, userID string) (e.Member, error) {
	m, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return e.Member{}, fmt.Errorf("getting member: %w", mapError(err))
	}

	if m.User == nil {
		return e.Member{}, platform.ErrNotFound
	}

	return c.member(guildID, m), nil
}

// Members pages through the whole member list.
func (c *Client) Members(ctx context.Context, guildID string) ([]e.Member, error) {
	var (
		out   []e.Member
		after string
	)

	for {
		page, err := c.session.GuildMembers(guildID, after, membersPage, discordgo.WithContext(ctx))
		if err != nil {
			return out, fmt.Errorf("listing members: %w", mapError(err))
		}

		for _, m := range page {
			if m.User == nil {
				continue
			}
			out = append(out, c.member(guildID, m))
			after = m.User.ID
		}

		if len(page) < membersPage {
			return out, nil
		}
	}
}

func (c *Client) Role(ctx context.Context, guildID, roleID string) (e.Role, error) {
	if role, err := c.session.State.Role(guildID, roleID); err == nil {
		return e.Role{ID: role.ID, Name: role.Name, Position: role.Position}, nil
	}

	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return e.Role{}, fmt.Errorf("listing roles: %w", mapError(err))
	}

	for _, role := range roles {
		if role.ID == roleID {
			return e.Role{ID: role.ID, Name: role.Name, Position: role.Position}, nil
		}
	}

	return e.Role{}, platform.ErrNotFound
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, messageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("sending message: %w", mapError(err))
	}
	return sent.ID, nil
}

func (c *Client) SendDM(ctx context.Context, userID string, msg platform.Message) error {
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("opening dm channel: %w", mapError(err))
	}

	_, err = c.SendMessage(ctx, ch.ID, msg)
	return err
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, msg platform.Message) error {
	_, err := c.session.ChannelMessageEditComplex(messageEdit(channelID, messageID, msg), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("editing message: %w", mapError(err))
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("deleting message: %w", mapError(err))
	}
	return nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("adding reaction: %w", mapError(err))
	}
	return nil
}

func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	if err := c.session.MessageReactionRemove(channelID, messageID, emoji, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("removing reaction: %w", mapError(err))
	}
	return nil
}

func (c *Client) ClearReactions(ctx context.Context, channelID, messageID string) error {
	if err := c.session.MessageReactionsRemoveAll(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("clearing reactions: %w", mapError(err))
	}
	return nil
}
