package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/gatekeeper/app/platform"
)

var (
	boldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mentionRe = regexp.MustCompile(`&lt;@!?(\d+)&gt;`)
)

// renderText flattens a message and its card into Telegram HTML.
func renderText(msg platform.Message) string {
	var parts []string

	if msg.Content != "" {
		parts = append(parts, format(msg.Content))
	}

	if card := msg.Card; card != nil {
		parts = append(parts, renderCard(card))
	}

	text := strings.Join(parts, "\n\n")
	if text == "" {
		return "\u200b"
	}

	return text
}

func renderCard(card *platform.Card) string {
	var sb strings.Builder

	if card.AuthorName != "" {
		sb.WriteString("<i>" + html.EscapeString(card.AuthorName) + "</i>\n")
	}
	if card.Title != "" {
		sb.WriteString("<b>" + html.EscapeString(card.Title) + "</b>\n")
	}
	if card.Description != "" {
		sb.WriteString(format(card.Description) + "\n")
	}

	for _, f := range card.Fields {
		fmt.Fprintf(&sb, "\n<b>%s</b>: %s", html.EscapeString(f.Name), format(f.Value))
	}
	if len(card.Fields) > 0 {
		sb.WriteString("\n")
	}

	if card.ImageURL != "" {
		fmt.Fprintf(&sb, "\n<a href=\"%s\">image</a>\n", html.EscapeString(card.ImageURL))
	}

	footer := card.Footer
	if !card.Timestamp.IsZero() {
		ts := card.Timestamp.UTC().Format(time.RFC1123)
		if footer != "" {
			footer += " • " + ts
		} else {
			footer = ts
		}
	}
	if footer != "" {
		sb.WriteString("\n<i>" + html.EscapeString(footer) + "</i>")
	}

	return strings.TrimSpace(sb.String())
}

// format escapes text and turns **bold** and member mentions into HTML.
func format(s string) string {
	s = html.EscapeString(s)
	s = boldRe.ReplaceAllString(s, "<b>$1</b>")
	return mentionRe.ReplaceAllString(s, `<a href="tg://user?id=$1">$1</a>`)
}

func renderKeyboard(kb keyboard) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for _, row := range kb.buttons {
		var out []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			data := b.ID
			if b.Disabled {
				data = noopCallback
			}
			out = append(out, tgbotapi.NewInlineKeyboardButtonData(b.Label, data))
		}
		if len(out) > 0 {
			rows = append(rows, out)
		}
	}

	if len(kb.reactions) > 0 {
		var out []tgbotapi.InlineKeyboardButton
		for _, emoji := range kb.reactions {
			out = append(out, tgbotapi.NewInlineKeyboardButtonData(emoji, reactPrefix+emoji))
		}
		rows = append(rows, out)
	}

	if len(rows) == 0 {
		return nil
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
