package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/waiter"
)

type selection int

const (
	selectionCancelled selection = iota
	selectionPicked
	selectionResolved
	selectionTimedOut
)

// specify retires the card, re-posts it at the bottom of the channel and
// lets the moderator choose the reported member.
func (w *Workflow) specify(ctx context.Context, policy *e.GuildPolicy, report e.Report, mod e.Member) error {
	old := report
	if err := w.resolve(ctx, policy, &old, e.ReportMovedForSpecification, mod, movedCard(old)); err != nil {
		return err
	}

	fresh := report
	fresh.MessageID = ""
	fresh.State = e.ReportOpen
	fresh.CreatedAt = w.now()

	suspect := w.candidate(ctx, fresh)
	msgID, err := w.Actions.SendMessage(ctx, fresh.ChannelID, reportMessage(fresh, suspect))
	if err != nil {
		return fmt.Errorf("re-posting report card: %w", err)
	}
	fresh.MessageID = msgID

	key := cardKey(fresh.GuildID, fresh.MessageID)
	w.cards.Lock(key)
	defer w.cards.Unlock(key)

	if err = w.Store.SaveReport(ctx, fresh); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}

	sel, target, err := w.selectMember(ctx, fresh, mod.ID)
	if err != nil {
		w.Log.Warn("selecting reported member", "message_id", fresh.MessageID, "error", err)
	}

	switch sel {
	case selectionPicked:
		return w.ban(ctx, policy, &fresh, target.ID, mod)

	case selectionResolved:
		return w.resolve(ctx, policy, &fresh, e.ReportResolvedAccountDeleted, mod, accountNotFoundCard(fresh))

	case selectionTimedOut:
		if err = w.Actions.EditMessage(ctx, fresh.ChannelID, fresh.MessageID, timedOutMessage(fresh, suspect)); err != nil {
			w.Log.Warn("editing timed out card", "error", err)
		}
	}

	w.addReactions(ctx, fresh, []string{EmojiSpecify, EmojiCancel})

	return nil
}

// selectMember offers the stored candidates first, then falls back to a
// typed name.
func (w *Workflow) selectMember(ctx context.Context, report e.Report, modID string) (selection, e.Member, error) {
	if members := w.candidates(ctx, report); len(members) > 0 {
		idx, err := w.Picker.Pick(ctx, report.ChannelID, modID, members)
		if err != nil {
			return selectionCancelled, e.Member{}, err
		}
		if idx != NotPicked {
			return selectionPicked, members[idx], nil
		}
	}

	return w.enterName(ctx, report, modID)
}

func (w *Workflow) enterName(ctx context.Context, report e.Report, modID string) (selection, e.Member, error) {
	sub := w.Messages.Subscribe(func(ev platform.MessageCreated) bool {
		return ev.Message.ChannelID == report.ChannelID && ev.Message.Author.ID == modID
	})
	defer sub.Close()

	promptID, err := w.Actions.SendMessage(ctx, report.ChannelID, selectionPrompt())
	if err != nil {
		return selectionCancelled, e.Member{}, fmt.Errorf("sending selection prompt: %w", err)
	}
	defer func() {
		if err := w.Actions.DeleteMessage(context.WithoutCancel(ctx), report.ChannelID, promptID); err != nil {
			w.Log.Warn("deleting selection prompt", "error", err)
		}
	}()

	timeout := w.NameTimeout
	if timeout <= 0 {
		timeout = DefaultNameTimeout
	}

	for {
		ev, err := sub.Next(ctx, timeout)
		if errors.Is(err, waiter.ErrTimeout) {
			return selectionTimedOut, e.Member{}, nil
		}
		if err != nil {
			return selectionCancelled, e.Member{}, err
		}

		if err = w.Actions.DeleteMessage(ctx, report.ChannelID, ev.Message.ID); err != nil {
			w.Log.Debug("deleting typed name", "error", err)
		}

		text := strings.TrimSpace(ev.Message.Text)
		switch {
		case text == "" || strings.HasPrefix(text, commandPrefix):
			continue
		case text == nameCancel:
			return selectionCancelled, e.Member{}, nil
		case text == nameResolve:
			return selectionResolved, e.Member{}, nil
		}

		found, err := w.Resolver.Search(ctx, report.GuildID, text)
		if err != nil {
			return selectionCancelled, e.Member{}, err
		}

		if len(found) == 0 {
			notice := fmt.Sprintf("No members found with the input: `%s`! Type another name, __%s__ to cancel, or __%s__ to resolve this report.",
				text, nameCancel, nameResolve)
			if _, err = w.Actions.SendMessage(ctx, report.ChannelID, platform.TextMessage(notice)); err != nil {
				w.Log.Warn("sending no match notice", "error", err)
			}
			continue
		}

		idx, err := w.Picker.Pick(ctx, report.ChannelID, modID, found)
		if err != nil || idx == NotPicked {
			return selectionCancelled, e.Member{}, err
		}
		return selectionPicked, found[idx], nil
	}
}

func (w *Workflow) candidate(ctx context.Context, report e.Report) *e.Member {
	if report.CandidateID == "" {
		return nil
	}

	m, err := w.Actions.Member(ctx, report.GuildID, report.CandidateID)
	if err != nil {
		return nil
	}
	return &m
}

func (w *Workflow) candidates(ctx context.Context, report e.Report) []e.Member {
	var res []e.Member
	for _, id := range report.Candidates {
		m, err := w.Actions.Member(ctx, report.GuildID, id)
		if err != nil {
			continue
		}
		res = append(res, m)
	}
	return res
}
