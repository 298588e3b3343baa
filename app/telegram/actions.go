package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
)

var _ platform.Actions = (*Client)(nil)

func (c *Client) SelfID() string {
	return takeUserID(&c.self)
}

func (c *Client) Ban(_ context.Context, guildID, userID, _ string) error {
	chatID, uid, err := parseIDs(guildID, userID)
	if err != nil {
		return err
	}

	_, err = c.bot.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: uid},
		RevokeMessages:   true,
	})
	if err != nil {
		return fmt.Errorf("banning chat member: %w", mapError(err))
	}

	c.forgetRoles(e.MemberKey{GuildID: guildID, MemberID: userID})
	return nil
}

// Kick bans and immediately unbans, which removes the member but lets them rejoin.
func (c *Client) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := c.Ban(ctx, guildID, userID, reason); err != nil {
		return err
	}

	chatID, uid, _ := parseIDs(guildID, userID)
	_, err := c.bot.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: uid},
		OnlyIfBanned:     true,
	})
	if err != nil {
		return fmt.Errorf("unbanning chat member: %w", mapError(err))
	}

	return nil
}

func (c *Client) AddRole(_ context.Context, guildID, userID, roleID string) error {
	if roleID == RoleRestricted {
		return c.restrict(guildID, userID, false)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.roles == nil {
		c.roles = make(map[e.MemberKey]map[string]struct{})
	}

	key := e.MemberKey{GuildID: guildID, MemberID: userID}
	if c.roles[key] == nil {
		c.roles[key] = make(map[string]struct{})
	}
	c.roles[key][roleID] = struct{}{}

	return nil
}

func (c *Client) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	if roleID == RoleRestricted {
		return c.restrict(guildID, userID, true)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.roles[e.MemberKey{GuildID: guildID, MemberID: userID}], roleID)
	return nil
}

func (c *Client) restrict(guildID, userID string, allow bool) error {
	chatID, uid, err := parseIDs(guildID, userID)
	if err != nil {
		return err
	}

	_, err = c.bot.Request(tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: uid},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       allow,
			CanSendMediaMessages:  allow,
			CanSendPolls:          allow,
			CanSendOtherMessages:  allow,
			CanAddWebPagePreviews: allow,
			CanInviteUsers:        allow,
		},
	})
	if err != nil {
		return fmt.Errorf("restricting chat member: %w", mapError(err))
	}

	return nil
}

func (c *Client) memberRoles(key e.MemberKey) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	roles := make([]string, 0, len(c.roles[key]))
	for id := range c.roles[key] {
		roles = append(roles, id)
	}
	slices.Sort(roles)

	return roles
}

func (c *Client) forgetRoles(key e.MemberKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.roles, key)
}

func (c *Client) Member(_ context.Context, guildID, userID string) (e.Member, error) {
	chatID, uid, err := parseIDs(guildID, userID)
	if err != nil {
		return e.Member{}, err
	}

	cm, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: uid},
	})
	if err != nil {
		return e.Member{}, fmt.Errorf("getting chat member: %w", mapError(err))
	}

	if cm.User == nil || cm.HasLeft() || cm.WasKicked() {
		return e.Member{}, platform.ErrNotFound
	}

	return c.memberFromChatMember(chatID, cm), nil
}

// Members lists the chat administrators only; the Bot API has no full member list.
func (c *Client) Members(_ context.Context, guildID string) ([]e.Member, error) {
	chatID, err := strconv.ParseInt(guildID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing chat id: %w", err)
	}

	admins, err := c.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("getting chat administrators: %w", mapError(err))
	}

	members := make([]e.Member, 0, len(admins))
	for _, cm := range admins {
		if cm.User == nil {
			continue
		}
		members = append(members, c.memberFromChatMember(chatID, cm))
	}

	return members, nil
}

func (c *Client) memberFromChatMember(chatID int64, cm tgbotapi.ChatMember) e.Member {
	member := c.memberFromUser(chatID, cm.User)

	switch {
	case cm.IsCreator():
		member.Roles = append(member.Roles, RoleCreator)
		member.TopRolePosition = rolePosition(RoleCreator)
	case cm.IsAdministrator():
		member.Roles = append(member.Roles, RoleAdministrator)
		member.TopRolePosition = rolePosition(RoleAdministrator)
	case cm.Status == "restricted" && !cm.CanSendMessages:
		member.Roles = append(member.Roles, RoleRestricted)
	}

	return member
}

// Role resolves the synthetic roles. Unknown ids are plain in-memory roles at position 0.
func (c *Client) Role(_ context.Context, _, roleID string) (e.Role, error) {
	return e.Role{ID: roleID, Name: roleID, Position: rolePosition(roleID)}, nil
}

func rolePosition(roleID string) int {
	switch roleID {
	case RoleCreator:
		return 2
	case RoleAdministrator:
		return 1
	default:
		return 0
	}
}

func (c *Client) SendMessage(_ context.Context, channelID string, msg platform.Message) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parsing chat id: %w", err)
	}

	return c.send(chatID, msg)
}

func (c *Client) SendDM(_ context.Context, userID string, msg platform.Message) error {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing user id: %w", err)
	}

	_, err = c.send(uid, msg)
	return err
}

func (c *Client) send(chatID int64, msg platform.Message) (string, error) {
	out := tgbotapi.NewMessage(chatID, renderText(msg))
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = msg.Card == nil || msg.Card.ImageURL == ""

	if markup := renderKeyboard(keyboard{buttons: msg.Buttons}); markup != nil {
		out.ReplyMarkup = *markup
	}

	sent, err := c.bot.Send(out)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", mapError(err))
	}

	id := strconv.Itoa(sent.MessageID)
	if len(msg.Buttons) > 0 {
		c.keyboardCache().Add(keyboardKey(chatID, id), &keyboard{buttons: msg.Buttons})
	}

	return id, nil
}

func (c *Client) EditMessage(_ context.Context, channelID, messageID string, msg platform.Message) error {
	chatID, mid, err := parseMessageIDs(channelID, messageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	kb := c.keyboardLocked(chatID, messageID)
	kb.buttons = msg.Buttons
	markup := renderKeyboard(*kb)
	c.mu.Unlock()

	edit := tgbotapi.NewEditMessageText(chatID, mid, renderText(msg))
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = markup
	if markup == nil {
		edit.ReplyMarkup = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}

	if _, err = c.bot.Request(edit); err != nil && !notModified(err) {
		return fmt.Errorf("editing message: %w", mapError(err))
	}

	return nil
}

func (c *Client) DeleteMessage(_ context.Context, channelID, messageID string) error {
	chatID, mid, err := parseMessageIDs(channelID, messageID)
	if err != nil {
		return err
	}

	if _, err = c.bot.Request(tgbotapi.NewDeleteMessage(chatID, mid)); err != nil {
		return fmt.Errorf("deleting message: %w", mapError(err))
	}

	c.keyboardCache().Remove(keyboardKey(chatID, messageID))
	return nil
}

func (c *Client) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	return c.updateReactions(channelID, messageID, func(kb *keyboard) {
		if !slices.Contains(kb.reactions, emoji) {
			kb.reactions = append(kb.reactions, emoji)
		}
	})
}

// RemoveReaction is a no-op: reaction buttons carry no per-user state.
func (c *Client) RemoveReaction(context.Context, string, string, string, string) error {
	return nil
}

func (c *Client) ClearReactions(_ context.Context, channelID, messageID string) error {
	return c.updateReactions(channelID, messageID, func(kb *keyboard) {
		kb.reactions = nil
	})
}

func (c *Client) updateReactions(channelID, messageID string, update func(kb *keyboard)) error {
	chatID, mid, err := parseMessageIDs(channelID, messageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	kb := c.keyboardLocked(chatID, messageID)
	update(kb)
	markup := renderKeyboard(*kb)
	c.mu.Unlock()

	if markup == nil {
		markup = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}

	_, err = c.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, mid, *markup))
	if err != nil && !notModified(err) {
		return fmt.Errorf("editing reply markup: %w", mapError(err))
	}

	return nil
}

// keyboardLocked returns the cached keyboard of a message, creating it. Callers hold c.mu.
func (c *Client) keyboardLocked(chatID int64, messageID string) *keyboard {
	cache := c.keyboards
	if cache == nil {
		cache = lru.NewLRU[string, *keyboard](keyboardSize, nil, keyboardTTL)
		c.keyboards = cache
	}

	key := keyboardKey(chatID, messageID)
	kb, ok := cache.Get(key)
	if !ok {
		kb = &keyboard{}
		cache.Add(key, kb)
	}

	return kb
}

func (c *Client) keyboardCache() *lru.LRU[string, *keyboard] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keyboards == nil {
		c.keyboards = lru.NewLRU[string, *keyboard](keyboardSize, nil, keyboardTTL)
	}

	return c.keyboards
}

func keyboardKey(chatID int64, messageID string) string {
	return strconv.FormatInt(chatID, 10) + "/" + messageID
}

func parseIDs(chat, user string) (int64, int64, error) {
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing chat id: %w", err)
	}

	userID, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing user id: %w", err)
	}

	return chatID, userID, nil
}

func parseMessageIDs(chat, message string) (int64, int, error) {
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing chat id: %w", err)
	}

	messageID, err := strconv.Atoi(message)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing message id: %w", err)
	}

	return chatID, messageID, nil
}

// mapError translates Bot API errors into the platform sentinels.
func mapError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	desc := strings.ToLower(apiErr.Message)

	switch {
	case apiErr.Code == 403,
		strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "admin_required"),
		strings.Contains(desc, "can't remove chat owner"):
		return fmt.Errorf("%w: %s", platform.ErrForbidden, apiErr.Message)
	case strings.Contains(desc, "not found"),
		strings.Contains(desc, "participant_id_invalid"),
		strings.Contains(desc, "user_not_participant"):
		return fmt.Errorf("%w: %s", platform.ErrNotFound, apiErr.Message)
	}

	return err
}

func notModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}
