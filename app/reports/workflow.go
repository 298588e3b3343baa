// Package reports turns screenshots posted in support channels into
// moderator-facing spam report cards and drives those cards, together with
// duplicate-name cards, to a resolution.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/state"
	"nuclight.org/gatekeeper/app/storage"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/mutex"
	"nuclight.org/gatekeeper/pkg/waiter"
)

const (
	EmojiSpecify = "📝"
	EmojiRecheck = "♻️"

	DefaultNameTimeout = 400 * time.Second

	MsgChecking        = "Checking Image... Please wait."
	MsgOCRFailed       = "OCR Detection failed! Sending image for moderators to review!"
	MsgSpamDetected    = "__**SPAM DETECTED! -- DO NOT CLICK ANY LINKS IN THE RECEIVED MESSAGE!**__\nModerators have been alerted and will review your submission soon!\nIf the user is deemed to be a scammer they will be banned! Thank you for reporting this user!"
	MsgMissingBanPerms = "Missing Permissions to ban member!"
	MsgThanks          = "Thank you for your report!"

	nameCancel    = "CANCEL"
	nameResolve   = "RESOLVE"
	commandPrefix = "!"

	submissionCacheSize = 512
	submissionCacheTTL  = 6 * time.Hour
)

type ReportStore interface {
	SaveReport(ctx context.Context, r e.Report) error
	GetReport(ctx context.Context, guildID, messageID string) (e.Report, error)
}

type Workflow struct {
	Log      logger.Logger
	State    *state.State
	Actions  platform.Actions
	Store    ReportStore
	Detector *Detector
	Locator  *Locator
	Resolver *Resolver
	Picker   *Picker
	Messages *waiter.Hub[platform.MessageCreated]
	Metrics  *metrics.Metrics
	Now      func() time.Time

	NameTimeout         time.Duration
	ImpersonationCutoff float64

	cards mutex.KeyedMutex

	submissionsOnce sync.Once
	submissions     *lru.LRU[string, e.Message]
}

// HandleMessage checks image submissions in support channels.
func (w *Workflow) HandleMessage(ctx context.Context, msg e.Message) error {
	if msg.Author.Bot || msg.Author.ID == w.Actions.SelfID() {
		return nil
	}

	policy, ok := w.State.Policy(msg.GuildID)
	if !ok || !policy.IsSupportChannel(msg.ChannelID) {
		return nil
	}

	img, ok := msg.FirstImage()
	if !ok {
		return nil
	}

	w.recent().Add(msg.ID, msg)

	return w.check(ctx, policy, msg, img.URL, true)
}

// HandleReaction drives report cards and support channel re-checks.
func (w *Workflow) HandleReaction(ctx context.Context, ev platform.ReactionAdded) error {
	if ev.UserID == w.Actions.SelfID() {
		return nil
	}

	policy, ok := w.State.Policy(ev.GuildID)
	if !ok {
		return nil
	}

	switch {
	case policy.IsReportChannel(ev.ChannelID) && isCardEmoji(ev.Emoji):
		return w.handleCard(ctx, policy, ev)
	case ev.Emoji == EmojiRecheck && policy.IsSupportChannel(ev.ChannelID):
		return w.recheck(ctx, policy, ev)
	}

	return nil
}

func (w *Workflow) check(ctx context.Context, policy *e.GuildPolicy, msg e.Message, imageURL string, notify bool) error {
	log := w.Log.With("guild_id", msg.GuildID, "message_id", msg.ID)

	var placeholder string
	if notify {
		id, err := w.Actions.SendMessage(ctx, msg.ChannelID, platform.TextMessage(MsgChecking))
		if err != nil {
			log.Warn("sending placeholder", "error", err)
		}
		placeholder = id
	}

	status := func(text string) {
		if placeholder == "" {
			return
		}
		if err := w.Actions.EditMessage(ctx, msg.ChannelID, placeholder, platform.TextMessage(text)); err != nil {
			log.Warn("editing placeholder", "error", err)
		}
	}

	det, err := w.Detector.Detect(ctx, imageURL, func(attempt, total int) {
		status(fmt.Sprintf("I'm having trouble parsing this image!... Retrying (%d/%d)", attempt, total))
	})
	if err != nil {
		return fmt.Errorf("detecting spam: %w", err)
	}

	report := e.Report{
		Kind:            e.ReportKindSpam,
		State:           e.ReportOpen,
		GuildID:         msg.GuildID,
		ChannelID:       policy.SpamReportChannelID,
		SourceChannelID: msg.ChannelID,
		SourceMessageID: msg.ID,
		ReporterID:      msg.Author.ID,
		ImageURL:        imageURL,
		Transcript:      det.Text,
		CreatedAt:       w.now(),
	}

	if det.Failed {
		status(MsgOCRFailed)
		report.ManualReview = true
		return w.postReport(ctx, report, nil)
	}

	if !det.Spam {
		if placeholder != "" {
			if err = w.Actions.DeleteMessage(ctx, msg.ChannelID, placeholder); err != nil {
				log.Warn("deleting placeholder", "error", err)
			}
		}
		return nil
	}

	status(MsgSpamDetected)

	names := w.Locator.Locate(det.Text)
	members, err := w.Resolver.Resolve(ctx, msg.GuildID, names)
	if err != nil {
		log.Warn("resolving reported member", "error", err)
	}

	log.Info("spam detected", "keyword", det.Keyword, "names", names, "members", len(members))

	for _, m := range members {
		report.Candidates = append(report.Candidates, m.ID)
	}
	if len(members) > 0 {
		report.CandidateID = members[0].ID
		return w.postReport(ctx, report, &members[0])
	}

	return w.postReport(ctx, report, nil)
}

// postReport sends a new open card and stores it.
func (w *Workflow) postReport(ctx context.Context, report e.Report, suspect *e.Member) error {
	if report.ChannelID == "" {
		w.Log.Warn("no report channel configured", "guild_id", report.GuildID, "kind", report.Kind)
		return nil
	}

	msgID, err := w.Actions.SendMessage(ctx, report.ChannelID, reportMessage(report, suspect))
	if err != nil {
		return fmt.Errorf("sending report card: %w", err)
	}
	report.MessageID = msgID

	if err = w.Store.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	w.Metrics.IncReport(string(report.Kind), string(report.State))

	w.addReactions(ctx, report, openReactions(report))

	return nil
}

func (w *Workflow) handleCard(ctx context.Context, policy *e.GuildPolicy, ev platform.ReactionAdded) error {
	key := cardKey(ev.GuildID, ev.MessageID)
	w.cards.Lock(key)
	defer w.cards.Unlock(key)

	report, err := w.Store.GetReport(ctx, ev.GuildID, ev.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading report: %w", err)
	}

	if report.State.Terminal() {
		return nil
	}

	mod, ok, err := platform.Staff(ctx, w.Actions, policy, ev.UserID)
	if err != nil || !ok {
		return err
	}

	w.Log.Info("report reaction", "guild_id", ev.GuildID, "message_id", ev.MessageID, "emoji", ev.Emoji, "moderator", mod.ID)

	switch ev.Emoji {
	case EmojiConfirm:
		if report.CandidateID == "" {
			return nil
		}
		return w.ban(ctx, policy, &report, report.CandidateID, mod)

	case EmojiCancel:
		return w.resolve(ctx, policy, &report, e.ReportResolvedNotSpam, mod, notSpamCard(report))

	case EmojiSpecify:
		return w.specify(ctx, policy, report, mod)
	}

	return nil
}

func (w *Workflow) ban(ctx context.Context, policy *e.GuildPolicy, report *e.Report, userID string, mod e.Member) error {
	target, err := w.Actions.Member(ctx, report.GuildID, userID)
	if err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("getting member: %w", err)
		}
		target = e.Member{ID: userID, GuildID: report.GuildID}
	}

	reason := fmt.Sprintf("Banned for %s by %s", offence(report.Kind), mod.Display())
	err = w.Actions.Ban(ctx, report.GuildID, userID, reason)
	switch {
	case errors.Is(err, platform.ErrForbidden):
		if _, sendErr := w.Actions.SendMessage(ctx, report.ChannelID, platform.TextMessage(MsgMissingBanPerms)); sendErr != nil {
			w.Log.Warn("sending missing permissions notice", "error", sendErr)
		}
		return nil

	case errors.Is(err, platform.ErrNotFound):
		return w.resolve(ctx, policy, report, e.ReportResolvedAccountDeleted, mod, accountDeletedCard(*report, userID))

	case err != nil:
		return fmt.Errorf("banning member: %w", err)
	}

	report.CandidateID = userID
	if report.Kind == e.ReportKindSpam {
		w.thankReporter(ctx, *report, target)
	}

	return w.resolve(ctx, policy, report, e.ReportResolvedBanned, mod, bannedCard(*report, target))
}

// resolve moves the card into a terminal state: the card loses its image
// and author preview, records who resolved it and when, loses its reactions
// and is archived to the log channel.
func (w *Workflow) resolve(ctx context.Context, policy *e.GuildPolicy, report *e.Report, st e.ReportState, mod e.Member, card platform.Card) error {
	now := w.now()

	report.State = st
	report.ResolvedBy = mod.ID
	report.ResolvedAt = now

	if card.Description != "" && !strings.HasSuffix(card.Description, "\n") {
		card.Description += "\n"
	}
	card.Description += "Resolved by: " + mod.Display()
	card.ImageURL = ""
	card.ThumbnailURL = ""
	card.AuthorName = ""
	card.AuthorIconURL = ""
	card.Footer = "Resolved at"
	card.Timestamp = now

	msg := platform.CardMessage(card)
	if err := w.Actions.EditMessage(ctx, report.ChannelID, report.MessageID, msg); err != nil {
		w.Log.Warn("editing report card", "message_id", report.MessageID, "error", err)
	}
	if err := w.Actions.ClearReactions(ctx, report.ChannelID, report.MessageID); err != nil {
		w.Log.Warn("clearing report reactions", "message_id", report.MessageID, "error", err)
	}

	if err := w.Store.SaveReport(ctx, *report); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	w.Metrics.IncReport(string(report.Kind), string(st))

	if st != e.ReportMovedForSpecification && policy.LogChannelID != "" {
		if _, err := w.Actions.SendMessage(ctx, policy.LogChannelID, msg); err != nil {
			w.Log.Warn("archiving report", "error", err)
		}
	}

	return nil
}

func (w *Workflow) thankReporter(ctx context.Context, report e.Report, target e.Member) {
	if report.SourceChannelID == "" || report.ReporterID == "" {
		return
	}

	msg := platform.Message{
		Content: fmt.Sprintf("<@%s> - %s", report.ReporterID, MsgThanks),
		Card: &platform.Card{
			AuthorName:    "Member Banned",
			AuthorIconURL: target.AvatarURL,
			Description:   fmt.Sprintf("%s (%s) was banned for %s.", target.Mention(), target.Name, offence(report.Kind)),
			Color:         platform.ColorGold,
			Footer:        "ID: " + target.ID,
		},
	}
	if _, err := w.Actions.SendMessage(ctx, report.SourceChannelID, msg); err != nil {
		w.Log.Warn("thanking reporter", "error", err)
	}
}

func (w *Workflow) recheck(ctx context.Context, policy *e.GuildPolicy, ev platform.ReactionAdded) error {
	if _, ok, err := platform.Staff(ctx, w.Actions, policy, ev.UserID); err != nil || !ok {
		return err
	}

	if err := w.Actions.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, ev.Emoji, ev.UserID); err != nil {
		w.Log.Debug("removing re-check reaction", "error", err)
	}

	msg, ok := w.recent().Get(ev.MessageID)
	if !ok {
		w.Log.Info("submission no longer cached, skipping re-check", "message_id", ev.MessageID)
		return nil
	}

	img, ok := msg.FirstImage()
	if !ok {
		return nil
	}

	return w.check(ctx, policy, msg, img.URL, false)
}

func (w *Workflow) addReactions(ctx context.Context, report e.Report, emojis []string) {
	for _, emoji := range emojis {
		if err := w.Actions.AddReaction(ctx, report.ChannelID, report.MessageID, emoji); err != nil {
			w.Log.Warn("adding report reaction", "emoji", emoji, "error", err)
		}
	}
}

func (w *Workflow) recent() *lru.LRU[string, e.Message] {
	w.submissionsOnce.Do(func() {
		w.submissions = lru.NewLRU[string, e.Message](submissionCacheSize, nil, submissionCacheTTL)
	})
	return w.submissions
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func cardKey(guildID, messageID string) string {
	return guildID + "/" + messageID
}

func isCardEmoji(emoji string) bool {
	return emoji == EmojiConfirm || emoji == EmojiCancel || emoji == EmojiSpecify
}

func offence(kind e.ReportKind) string {
	if kind == e.ReportKindDuplicate {
		return "duplicate name"
	}
	return "spamming"
}

func openReactions(report e.Report) []string {
	if report.Kind == e.ReportKindDuplicate {
		return []string{EmojiConfirm, EmojiCancel}
	}
	if report.CandidateID != "" {
		return []string{EmojiConfirm, EmojiSpecify, EmojiCancel}
	}
	return []string{EmojiSpecify, EmojiCancel}
}
