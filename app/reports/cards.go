package reports

import (
	"fmt"
	"strings"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
)

const joinedLayout = "01/02/2006, 15:04:05 MST"

func reportMessage(r e.Report, suspect *e.Member) platform.Message {
	if r.Kind == e.ReportKindDuplicate {
		return duplicateMessage(r, suspect)
	}
	return spamMessage(r, suspect)
}

func spamMessage(r e.Report, suspect *e.Member) platform.Message {
	card := platform.Card{
		Title:     "Possible Spam Report!",
		Color:     platform.ColorTeal,
		ImageURL:  r.ImageURL,
		Timestamp: r.CreatedAt,
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Spam report detected in <#%s> - sent by <@%s>.", r.SourceChannelID, r.ReporterID)
	if r.ManualReview {
		desc.WriteString("\n\nText detection failed, please review the image manually.")
	}

	content := "SPAM Report for UID: N/A"
	if suspect != nil {
		content = fmt.Sprintf("(%s) SPAM Report for UID: %s", suspect.Mention(), suspect.ID)
		fmt.Fprintf(&desc, "\n__User Detected:__\n%s (%s) - Joined (%s)", suspect.Mention(), suspect.Display(), suspect.JoinedAt.Format(joinedLayout))
		if len(r.Candidates) > 1 {
			fmt.Fprintf(&desc, "\n%d other possible matches, press %s to browse them.", len(r.Candidates)-1, EmojiSpecify)
		}
		card.AuthorName = suspect.Display() + " <-- NAME (VERIFY MATCH!) PHOTO -->"
		card.AuthorIconURL = suspect.AvatarURL
		card.ThumbnailURL = suspect.AvatarURL
		card.Footer = fmt.Sprintf("Click %s to ban user, %s to ignore. | Detected", EmojiConfirm, EmojiCancel)
	} else {
		fmt.Fprintf(&desc, "\n\nUser not found! Please press %s and enter the user to ban if possible!", EmojiSpecify)
		card.Footer = fmt.Sprintf("Click %s or %s to resolve this message. | Detected", EmojiSpecify, EmojiCancel)
	}
	desc.WriteString("\n\nImage provided below:")
	card.Description = desc.String()

	return platform.Message{Content: content, Card: &card}
}

func duplicateMessage(r e.Report, suspect *e.Member) platform.Message {
	m := e.Member{ID: r.CandidateID}
	if suspect != nil {
		m = *suspect
	}

	card := platform.Card{
		Title: "Possible Impersonation Report!",
		Description: fmt.Sprintf("User: %s - (%s)\nJoined (%s)\n\nDetected similarities with staff: [%s]\n",
			m.Mention(), m.Name, m.JoinedAt.Format(joinedLayout), r.Transcript),
		Color:         platform.ColorTeal,
		AuthorName:    m.Display(),
		AuthorIconURL: m.AvatarURL,
		Timestamp:     r.CreatedAt,
		Fields: []platform.Field{{
			Name: "Actions:",
			Value: fmt.Sprintf("Click the %s emoji to ban this member\nClick the %s emoji to allow the user server access & resolve this case.",
				EmojiConfirm, EmojiCancel),
		}},
	}

	return platform.Message{Content: "DUPLICATE Report for UID: " + m.ID, Card: &card}
}

func imageLink(r e.Report) string {
	if r.Kind != e.ReportKindSpam || r.ImageURL == "" {
		return ""
	}
	return fmt.Sprintf("[Image link](%s)\n", r.ImageURL)
}

func notSpamCard(r e.Report) platform.Card {
	title := "Resolved: Not Spam"
	if r.Kind == e.ReportKindDuplicate {
		title = "Resolved: Not Duplicate"
	}
	return platform.Card{Title: title, Description: imageLink(r), Color: platform.ColorRed}
}

func bannedCard(r e.Report, target e.Member) platform.Card {
	name := target.Name
	if name == "" {
		name = target.ID
	}
	return platform.Card{
		Title:       "Resolved: Member Banned",
		Description: fmt.Sprintf("%s (%s) was banned for %s.\n\n%s", target.Mention(), name, offence(r.Kind), imageLink(r)),
		Color:       platform.ColorGreen,
	}
}

func accountDeletedCard(r e.Report, userID string) platform.Card {
	return platform.Card{
		Title: "Resolved: Scam detected - USER account deleted!",
		Description: fmt.Sprintf("The detected user was attempted to be banned, but the associated account has since been deleted.\n\n__User Detected:__ <@%s>\n%s",
			userID, imageLink(r)),
		Color: platform.ColorOrange,
	}
}

func accountNotFoundCard(r e.Report) platform.Card {
	return platform.Card{
		Title:       "Resolved: Scam detected - Account not found!",
		Description: "The detected user was attempted to be banned, but the associated account could not be found.\n" + imageLink(r),
		Color:       platform.ColorPurple,
	}
}

func movedCard(r e.Report) platform.Card {
	return platform.Card{
		Title:       "Resolved: Moved below for member specification.",
		Description: imageLink(r),
		Color:       platform.ColorRed,
	}
}

func timedOutMessage(r e.Report, suspect *e.Member) platform.Message {
	msg := reportMessage(r, suspect)
	msg.Card.Title = "Timed out! Member not specified in time!"
	return msg
}

func selectionPrompt() platform.Message {
	return platform.CardMessage(platform.Card{
		Title: "Member Selection",
		Description: fmt.Sprintf("Please enter the username of the member in this report.\n\nType `%s` to cancel this process.\nType `%s` to resolve it as account not found.",
			nameCancel, nameResolve),
		Color: platform.ColorBlue,
	})
}
