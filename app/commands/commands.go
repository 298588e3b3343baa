// Package commands implements the text commands staff can issue in a guild.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/state"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/phash"
)

const (
	DefaultPrefix = "!"

	// listed matches per reply
	maxListed = 25
)

type Actions interface {
	SelfID() string
	Member(ctx context.Context, guildID, userID string) (e.Member, error)
	Role(ctx context.Context, guildID, roleID string) (e.Role, error)
	SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error)
}

type PhotoHasher interface {
	Hash(ctx context.Context, imageURL string) (string, error)
}

type PhotoStore interface {
	SetBannedPhoto(ctx context.Context, guildID, userID, hash string) error
	PhotoHashes(ctx context.Context, guildID string) ([]e.PhotoHash, error)
}

type Reloader interface {
	Reload(ctx context.Context) error
}

type Commands struct {
	Log      logger.Logger
	State    *state.State
	Actions  Actions
	Hasher   PhotoHasher
	Photos   PhotoStore
	Reloader Reloader
	Prefix   string
}

// HandleMessage runs the command in msg, if any, and reports whether the
// message was a command.
func (c *Commands) HandleMessage(ctx context.Context, msg e.Message) (bool, error) {
	if msg.Author.Bot || msg.Author.ID == c.Actions.SelfID() {
		return false, nil
	}

	name, args, ok := c.parse(msg.Text)
	if !ok {
		return false, nil
	}

	policy, ok := c.State.Policy(msg.GuildID)
	if !ok {
		return false, nil
	}

	switch name {
	case "photoblacklist":
		return true, c.photoBlacklist(ctx, policy, msg, args)
	case "reload":
		return true, c.reload(ctx, policy, msg)
	}

	return false, nil
}

func (c *Commands) parse(text string) (string, []string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), c.prefix())
	if !ok {
		return "", nil, false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, false
	}

	return strings.ToLower(fields[0]), fields[1:], true
}

// photoBlacklist bans the avatar of a user: the hash is stored with the
// banned flag, added to the guild's live blacklist, and stored members with a
// similar avatar are listed back.
func (c *Commands) photoBlacklist(ctx context.Context, policy *e.GuildPolicy, msg e.Message, args []string) error {
	if _, ok, err := platform.Staff(ctx, c.Actions, policy, msg.Author.ID); err != nil || !ok {
		return err
	}

	if len(args) != 1 {
		return c.reply(ctx, msg, fmt.Sprintf("Usage: `%sphotoblacklist <user id>`", c.prefix()))
	}

	userID := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(args[0], "<@"), "!"), ">")

	target, err := c.Actions.Member(ctx, msg.GuildID, userID)
	if errors.Is(err, platform.ErrNotFound) {
		return c.reply(ctx, msg, fmt.Sprintf("No members found with the id: `%s`", userID))
	}
	if err != nil {
		return fmt.Errorf("getting member: %w", err)
	}

	hash := phash.DefaultAvatarHash(target.DefaultAvatar)
	if !target.HasDefaultAvatar() {
		if hash, err = c.Hasher.Hash(ctx, target.AvatarURL); err != nil {
			_ = c.reply(ctx, msg, "Failed to hash the profile photo! Please try again later.")
			return fmt.Errorf("hashing avatar: %w", err)
		}
	}

	if err = c.Photos.SetBannedPhoto(ctx, msg.GuildID, target.ID, hash); err != nil {
		return fmt.Errorf("saving banned photo: %w", err)
	}
	added := c.State.AddBannedPhoto(msg.GuildID, hash)

	stored, err := c.Photos.PhotoHashes(ctx, msg.GuildID)
	if err != nil {
		return fmt.Errorf("listing photo hashes: %w", err)
	}

	var matches []string
	for _, ph := range stored {
		if ph.UserID != target.ID && phash.Similar(hash, ph.Hash) {
			matches = append(matches, "<@"+ph.UserID+">")
		}
	}

	c.Log.Info("photo blacklisted", "guild_id", msg.GuildID, "user_id", target.ID, "hash", hash, "new", added, "matches", len(matches))

	var desc strings.Builder
	fmt.Fprintf(&desc, "Profile photo of %s added to the blacklist.\n\n**%d** stored members with matching profile photos found!", target.Mention(), len(matches))
	if len(matches) > 0 {
		desc.WriteString("\n")
		desc.WriteString(strings.Join(matches[:min(len(matches), maxListed)], " "))
		if len(matches) > maxListed {
			fmt.Fprintf(&desc, " and %d more", len(matches)-maxListed)
		}
	}

	card := platform.Card{
		Title:        "Success!",
		Description:  desc.String(),
		Color:        platform.ColorGreen,
		ThumbnailURL: target.AvatarURL,
		Footer:       "Hash: " + hash,
		Timestamp:    time.Now(),
	}
	if _, err = c.Actions.SendMessage(ctx, msg.ChannelID, platform.CardMessage(card)); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}

	return nil
}

func (c *Commands) reload(ctx context.Context, policy *e.GuildPolicy, msg e.Message) error {
	if !policy.IsSuperAdmin(msg.Author.ID) {
		return nil
	}

	if err := c.Reloader.Reload(ctx); err != nil {
		_ = c.reply(ctx, msg, "Reload failed: "+err.Error())
		return fmt.Errorf("reloading policies: %w", err)
	}

	return c.reply(ctx, msg, fmt.Sprintf("Reloaded policies for %d guilds.", len(c.State.GuildIDs())))
}

func (c *Commands) reply(ctx context.Context, msg e.Message, text string) error {
	if _, err := c.Actions.SendMessage(ctx, msg.ChannelID, platform.TextMessage(text)); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (c *Commands) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}
