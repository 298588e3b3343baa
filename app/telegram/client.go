// Package telegram adapts the Telegram Bot API to the platform interfaces.
//
// Telegram has no roles or reactions, so the adapter maps them: a group is a
// guild, RoleRestricted is a chat restriction, other roles are kept in memory,
// and reactions are inline buttons carrying "react:<emoji>" callbacks.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
)

const (
	RoleRestricted    = "restricted"
	RoleAdministrator = "administrator"
	RoleCreator       = "creator"

	reactPrefix   = "react:"
	noopCallback  = "-"
	keyboardSize  = 4096
	keyboardTTL   = 24 * time.Hour
	pollTimeout   = 60
	defaultAvatar = "telegram"
)

type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
	GetUserProfilePhotos(config tgbotapi.UserProfilePhotosConfig) (tgbotapi.UserProfilePhotos, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int
	Handler    platform.EventHandler

	bot  botAPI
	self tgbotapi.User
	wg   sync.WaitGroup

	mu        sync.Mutex
	roles     map[e.MemberKey]map[string]struct{}
	keyboards *lru.LRU[string, *keyboard]
}

// keyboard is the inline markup the adapter last rendered for a message.
type keyboard struct {
	buttons   [][]platform.Button
	reactions []string
}

func (c *Client) Start(ctx context.Context) error {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	bot, err := tgbotapi.NewBotAPI(c.APIToken)
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	c.bot = bot
	c.self = bot.Self
	c.Log.Info("bot api created", "username", bot.Self.UserName)

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = pollTimeout
	updatesConf.AllowedUpdates = []string{"message", "callback_query"}

	updatesChan := c.bot.GetUpdatesChan(updatesConf)

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	return nil
}

// Stop ends long polling and waits for the workers.
func (c *Client) Stop() {
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	c.wg.Wait()
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updatesChan:
			if !ok {
				return
			}
			if err := c.handleUpdate(ctx, update); err != nil {
				c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
			}
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
		}
	}()

	if update.CallbackQuery != nil {
		return c.handleCallback(ctx, update.CallbackQuery)
	}

	if update.Message == nil {
		log.Debug("update without message")
		return nil
	}

	if update.Message.From == nil || update.Message.Chat == nil {
		log.Warn("message without sender or chat")
		return nil
	}

	if update.Message.Chat.IsPrivate() {
		if err := c.replyPrivate(update.Message.Chat.ID); err != nil {
			log.Error("replying to private message", "error", err)
		}
		return nil
	}

	for _, user := range update.Message.NewChatMembers {
		member := c.memberFromUser(update.Message.Chat.ID, &user)
		log.Info("member joined", "tg_chat_id", update.Message.Chat.ID, "tg_user_id", user.ID)
		c.Handler.HandleEvent(ctx, platform.MemberJoined{Member: member})
	}

	if len(update.Message.NewChatMembers) > 0 {
		return nil
	}

	msg, err := c.messageFromUpdate(update.Message)
	if err != nil {
		return fmt.Errorf("converting message: %w", err)
	}

	log.Debug(
		"new message",
		"tg_message_id", update.Message.MessageID,
		"tg_user_id", update.Message.From.ID,
		"tg_chat_id", update.Message.Chat.ID,
		"attachments", len(msg.Attachments),
	)

	c.Handler.HandleEvent(ctx, platform.MessageCreated{Message: msg})
	return nil
}

func (c *Client) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if _, err := c.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		c.Log.Warn("answering callback", "error", err)
	}

	if q.Message == nil || q.Message.Chat == nil || q.From == nil || q.Data == noopCallback {
		return nil
	}

	guildID := takeChatID(q.Message.Chat)
	messageID := takeMessageID(q.Message)
	userID := takeUserID(q.From)

	if emoji, ok := strings.CutPrefix(q.Data, reactPrefix); ok {
		c.Handler.HandleEvent(ctx, platform.ReactionAdded{
			GuildID:   guildID,
			ChannelID: guildID,
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
		return nil
	}

	c.Handler.HandleEvent(ctx, platform.ButtonPressed{
		GuildID:   guildID,
		ChannelID: guildID,
		MessageID: messageID,
		UserID:    userID,
		ButtonID:  q.Data,
	})

	return nil
}

func (c *Client) messageFromUpdate(m *tgbotapi.Message) (e.Message, error) {
	msg := e.Message{
		ID:        takeMessageID(m),
		GuildID:   takeChatID(m.Chat),
		ChannelID: takeChatID(m.Chat),
		Author:    c.memberFromUser(m.Chat.ID, m.From),
		Text:      m.Text,
	}

	if msg.Text == "" {
		msg.Text = m.Caption
	}

	if len(m.Photo) > 0 {
		largest := m.Photo[len(m.Photo)-1]
		url, err := c.bot.GetFileDirectURL(largest.FileID)
		if err != nil {
			return msg, fmt.Errorf("getting photo url: %w", mapError(err))
		}
		msg.Attachments = append(msg.Attachments, e.Attachment{URL: url, Filename: "photo.jpg", ContentType: "image/jpeg"})
	}

	if m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/") {
		url, err := c.bot.GetFileDirectURL(m.Document.FileID)
		if err != nil {
			return msg, fmt.Errorf("getting document url: %w", mapError(err))
		}
		msg.Attachments = append(msg.Attachments, e.Attachment{URL: url, Filename: m.Document.FileName, ContentType: m.Document.MimeType})
	}

	return msg, nil
}

func (c *Client) memberFromUser(chatID int64, user *tgbotapi.User) e.Member {
	member := e.Member{
		ID:            takeUserID(user),
		GuildID:       strconv.FormatInt(chatID, 10),
		Name:          user.UserName,
		DisplayName:   takeUserName(user),
		DefaultAvatar: defaultAvatar,
		JoinedAt:      time.Now(),
		Bot:           user.IsBot,
	}

	if member.Name == "" {
		member.Name = member.DisplayName
	}

	url, err := c.avatarURL(user.ID)
	if err != nil {
		c.Log.Warn("getting avatar", "tg_user_id", user.ID, "error", err)
	}
	member.AvatarURL = url

	member.Roles = c.memberRoles(member.Key())

	return member
}

func (c *Client) avatarURL(userID int64) (string, error) {
	photos, err := c.bot.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{UserID: userID, Limit: 1})
	if err != nil {
		return "", mapError(err)
	}

	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil
	}

	sizes := photos.Photos[0]
	return c.bot.GetFileDirectURL(sizes[len(sizes)-1].FileID)
}

func (c *Client) replyPrivate(chatID int64) error {
	msg := tgbotapi.NewMessage(
		chatID,
		"Hello, I moderate groups: I verify new members and handle spam reports.\n"+
			"Add me to your group as admin with ability to ban and restrict members",
	)

	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := c.bot.Send(msg)
	return err
}

func takeMessageID(message *tgbotapi.Message) string {
	return strconv.Itoa(message.MessageID)
}

func takeChatID(chat *tgbotapi.Chat) string {
	return strconv.FormatInt(chat.ID, 10)
}

func takeUserID(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func takeUserName(user *tgbotapi.User) string {
	var sb strings.Builder

	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}

	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}

	if sb.Len() == 0 && user.UserName != "" {
		sb.WriteString(user.UserName)
	}

	if sb.Len() == 0 {
		return takeUserID(user)
	}

	return sb.String()
}
