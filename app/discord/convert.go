package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
)

// Discord JSON error codes that map onto the platform sentinels.
const (
	codeUnknownMember      = 10007
	codeUnknownMessage     = 10008
	codeUnknownUser        = 10013
	codeMissingPermissions = 50013
)

func (c *Client) member(guildID string, m *discordgo.Member) e.Member {
	member := memberFromDiscord(guildID, m)
	member.TopRolePosition = c.topRolePosition(guildID, m.Roles)
	return member
}

func memberFromDiscord(guildID string, m *discordgo.Member) e.Member {
	u := m.User

	member := e.Member{
		ID:            u.ID,
		GuildID:       guildID,
		Name:          u.Username,
		DisplayName:   displayName(m),
		DefaultAvatar: strconv.Itoa(defaultAvatarIndex(u)),
		JoinedAt:      m.JoinedAt,
		Roles:         m.Roles,
		Bot:           u.Bot,
		Premium:       m.PremiumSince != nil || u.PremiumType != 0,
		Flags:         int64(u.PublicFlags),
		Screening:     m.Pending,
	}

	if u.Avatar != "" {
		member.AvatarURL = u.AvatarURL("256")
	}

	if created, err := discordgo.SnowflakeTimestamp(u.ID); err == nil {
		member.CreatedAt = created
	}

	return member
}

func displayName(m *discordgo.Member) string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

// defaultAvatarIndex picks the embed avatar Discord shows for users without one.
func defaultAvatarIndex(u *discordgo.User) int {
	if u.Discriminator == "" || u.Discriminator == "0" {
		id, err := strconv.ParseUint(u.ID, 10, 64)
		if err != nil {
			return 0
		}
		return int((id >> 22) % 6)
	}

	disc, err := strconv.Atoi(u.Discriminator)
	if err != nil {
		return 0
	}
	return disc % 5
}

func (c *Client) topRolePosition(guildID string, roles []string) int {
	if c.session == nil || c.session.State == nil {
		return 0
	}

	top := 0
	for _, id := range roles {
		role, err := c.session.State.Role(guildID, id)
		if err != nil {
			continue
		}
		top = max(top, role.Position)
	}

	return top
}

func (c *Client) message(m *discordgo.Message) e.Message {
	msg := e.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Text:      m.Content,
	}

	if m.Member != nil {
		member := *m.Member
		member.User = m.Author
		msg.Author = c.member(m.GuildID, &member)
	} else {
		msg.Author = memberFromDiscord(m.GuildID, &discordgo.Member{User: m.Author})
	}

	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, e.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}

	return msg
}

func messageSend(msg platform.Message) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: components(msg.Buttons),
	}

	if msg.Card != nil {
		send.Embeds = []*discordgo.MessageEmbed{embed(msg.Card)}
	}

	return send
}

func messageEdit(channelID, messageID string, msg platform.Message) *discordgo.MessageEdit {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(msg.Content)

	embeds := []*discordgo.MessageEmbed{}
	if msg.Card != nil {
		embeds = append(embeds, embed(msg.Card))
	}
	edit.SetEmbeds(embeds)

	comps := components(msg.Buttons)
	if comps == nil {
		comps = []discordgo.MessageComponent{}
	}
	edit.Components = &comps

	return edit
}

func embed(card *platform.Card) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Description,
		Color:       card.Color,
	}

	if card.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: card.ImageURL}
	}
	if card.ThumbnailURL != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: card.ThumbnailURL}
	}
	if card.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: card.AuthorName, IconURL: card.AuthorIconURL}
	}
	if card.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: card.Footer}
	}
	if !card.Timestamp.IsZero() {
		out.Timestamp = card.Timestamp.UTC().Format(time.RFC3339)
	}

	for _, f := range card.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}

	return out
}

func components(rows [][]platform.Button) []discordgo.MessageComponent {
	var out []discordgo.MessageComponent

	for _, row := range rows {
		var buttons []discordgo.MessageComponent
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				CustomID: b.ID,
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				Disabled: b.Disabled,
			})
		}
		if len(buttons) > 0 {
			out = append(out, discordgo.ActionsRow{Components: buttons})
		}
	}

	return out
}

func buttonStyle(s platform.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case platform.ButtonSecondary:
		return discordgo.SecondaryButton
	case platform.ButtonSuccess:
		return discordgo.SuccessButton
	case platform.ButtonDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

// mapError translates REST errors into the platform sentinels.
func mapError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}

	code := 0
	if restErr.Message != nil {
		code = restErr.Message.Code
	}

	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}

	switch {
	case code == codeMissingPermissions || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", platform.ErrForbidden, err)
	case code == codeUnknownMember, code == codeUnknownUser, code == codeUnknownMessage,
		status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", platform.ErrNotFound, err)
	}

	return err
}
