package entities

import "strings"

// Message is an incoming chat message as seen by the moderation core.
type Message struct {
	ID          string
	GuildID     string
	ChannelID   string
	Author      Member
	Text        string
	Attachments []Attachment
}

type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

func (a Attachment) IsImage() bool {
	if strings.HasPrefix(a.ContentType, "image/") {
		return true
	}

	name := strings.ToLower(a.Filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".gif"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return false
}

func (m *Message) HasText() bool {
	return m.Text != ""
}

// FirstImage returns the first image attachment of the message.
func (m *Message) FirstImage() (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.IsImage() {
			return a, true
		}
	}

	return Attachment{}, false
}
