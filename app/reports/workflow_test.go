package reports

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/platform/platformtest"
	"nuclight.org/gatekeeper/app/state"
	"nuclight.org/gatekeeper/app/storage"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/waiter"
)

type memStore struct {
	mu      sync.Mutex
	reports map[string]e.Report
}

func (s *memStore) SaveReport(_ context.Context, r e.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reports == nil {
		s.reports = make(map[string]e.Report)
	}
	s.reports[cardKey(r.GuildID, r.MessageID)] = r
	return nil
}

func (s *memStore) GetReport(_ context.Context, guildID, messageID string) (e.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[cardKey(guildID, messageID)]
	if !ok {
		return e.Report{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *memStore) get(t *testing.T, messageID string) e.Report {
	t.Helper()
	r, err := s.GetReport(context.Background(), "g1", messageID)
	require.NoError(t, err)
	return r
}

const spamText = "Scammer99\nToday at 4:20 PM\nYou WIN a free prize https://x.com"

type harness struct {
	wf        *Workflow
	fake      *platformtest.Fake
	store     *memStore
	ocr       *ocrStub
	reactions *waiter.Hub[platform.ReactionAdded]
	messages  *waiter.Hub[platform.MessageCreated]
}

func workflowPolicy() *e.GuildPolicy {
	return &e.GuildPolicy{
		GuildID:                  "g1",
		MinStaffRoleID:           "staff",
		SuperAdminIDs:            []string{"root"},
		LogChannelID:             "log",
		SpamReportChannelID:      "spam",
		DuplicateReportChannelID: "dups",
		SupportChannelIDs:        []string{"support"},
		DuplicateNameDetection:   true,
	}
}

func newHarness(t *testing.T, text string) *harness {
	t.Helper()

	st := state.New()
	st.ReplacePolicies(map[string]*e.GuildPolicy{"g1": workflowPolicy()})

	fake := platformtest.NewFake("bot")
	fake.PutRole(e.Role{ID: "staff", Position: 5})
	fake.PutMember(e.Member{ID: "mod", GuildID: "g1", Name: "moddy", DisplayName: "Moddy", TopRolePosition: 6})
	fake.PutMember(e.Member{ID: "pleb", GuildID: "g1", Name: "pleb", TopRolePosition: 1})
	fake.PutMember(e.Member{ID: "u9", GuildID: "g1", Name: "scammer_99", DisplayName: "Scammer 99", AvatarURL: "https://cdn/u9.png"})
	fake.PutMember(e.Member{ID: "reporter", GuildID: "g1", Name: "helpful"})

	h := &harness{
		fake:      fake,
		store:     &memStore{},
		ocr:       &ocrStub{results: []ocrResult{{text: text}}},
		reactions: &waiter.Hub[platform.ReactionAdded]{},
		messages:  &waiter.Hub[platform.MessageCreated]{},
	}

	log := testLogger()
	h.wf = &Workflow{
		Log:      log,
		State:    st,
		Actions:  fake,
		Store:    h.store,
		Detector: newDetector(h.ocr),
		Locator:  NewLocator(),
		Resolver: &Resolver{Log: log, Members: fake},
		Picker:   &Picker{Log: log, Actions: fake, Reactions: h.reactions, Timeout: time.Second},
		Messages: h.messages,
		Now:      func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },

		NameTimeout: time.Second,
	}
	return h
}

func submission(id string) e.Message {
	return e.Message{
		ID:          id,
		GuildID:     "g1",
		ChannelID:   "support",
		Author:      e.Member{ID: "reporter", GuildID: "g1", Name: "helpful"},
		Attachments: []e.Attachment{{URL: "https://cdn/shot.png", Filename: "shot.png"}},
	}
}

func (h *harness) reportCard(t *testing.T) platformtest.Sent {
	t.Helper()
	sent := h.fake.SentTo("spam")
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

func (h *harness) react(t *testing.T, channelID, messageID, userID, emoji string) {
	t.Helper()
	require.NoError(t, h.wf.HandleReaction(context.Background(), platform.ReactionAdded{
		GuildID: "g1", ChannelID: channelID, MessageID: messageID, UserID: userID, Emoji: emoji,
	}))
}

func lastEdit(t *testing.T, fake *platformtest.Fake, messageID string) platform.Message {
	t.Helper()
	edits := fake.Edits(messageID)
	require.NotEmpty(t, edits)
	return edits[len(edits)-1].Message
}

func TestHandleMessage_SpamWithSuspect(t *testing.T) {
	h := newHarness(t, spamText)

	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))

	placeholder := h.fake.SentTo("support")
	require.Len(t, placeholder, 1)
	assert.Equal(t, MsgChecking, placeholder[0].Message.Content)
	assert.Equal(t, MsgSpamDetected, lastEdit(t, h.fake, placeholder[0].MessageID).Content)

	card := h.reportCard(t)
	assert.Equal(t, "(<@u9>) SPAM Report for UID: u9", card.Message.Content)
	assert.Equal(t, "https://cdn/shot.png", card.Message.Card.ImageURL)
	assert.Contains(t, card.Message.Card.Description, "<@u9>")
	assert.Equal(t, []string{EmojiConfirm, EmojiSpecify, EmojiCancel}, h.fake.Reactions(card.MessageID))

	r := h.store.get(t, card.MessageID)
	assert.Equal(t, e.ReportOpen, r.State)
	assert.Equal(t, "u9", r.CandidateID)
	assert.Equal(t, "s1", r.SourceMessageID)
	assert.Equal(t, "reporter", r.ReporterID)
}

func TestHandleMessage_NotSpam(t *testing.T) {
	h := newHarness(t, "hello there")

	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))

	placeholder := h.fake.SentTo("support")
	require.Len(t, placeholder, 1)
	assert.Equal(t, []string{placeholder[0].MessageID}, h.fake.Deleted())
	assert.Empty(t, h.fake.SentTo("spam"))
}

func TestHandleMessage_OCRFailure(t *testing.T) {
	h := newHarness(t, "")
	h.ocr.set(ocrResult{err: assert.AnError})

	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))

	placeholder := h.fake.SentTo("support")[0]
	assert.Equal(t, MsgOCRFailed, lastEdit(t, h.fake, placeholder.MessageID).Content)

	card := h.reportCard(t)
	assert.Equal(t, "SPAM Report for UID: N/A", card.Message.Content)
	assert.Equal(t, []string{EmojiSpecify, EmojiCancel}, h.fake.Reactions(card.MessageID))
	assert.True(t, h.store.get(t, card.MessageID).ManualReview)
}

func TestHandleMessage_Ignored(t *testing.T) {
	h := newHarness(t, spamText)
	ctx := context.Background()

	other := submission("s1")
	other.ChannelID = "general"
	require.NoError(t, h.wf.HandleMessage(ctx, other))

	bot := submission("s2")
	bot.Author.Bot = true
	require.NoError(t, h.wf.HandleMessage(ctx, bot))

	text := submission("s3")
	text.Attachments = []e.Attachment{{URL: "https://cdn/a.zip", Filename: "a.zip"}}
	require.NoError(t, h.wf.HandleMessage(ctx, text))

	assert.Empty(t, h.fake.Methods())
}

func TestReaction_BanByStaff(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)

	h.react(t, "spam", card.MessageID, "mod", EmojiConfirm)

	bans := h.fake.Calls("Ban")
	require.Len(t, bans, 1)
	assert.Equal(t, []string{"g1", "u9", "Banned for spamming by Moddy"}, bans[0].Args)

	r := h.store.get(t, card.MessageID)
	assert.Equal(t, e.ReportResolvedBanned, r.State)
	assert.Equal(t, "mod", r.ResolvedBy)

	edited := lastEdit(t, h.fake, card.MessageID).Card
	assert.Equal(t, "Resolved: Member Banned", edited.Title)
	assert.Empty(t, edited.ImageURL)
	assert.Empty(t, edited.AuthorName)
	assert.Equal(t, "Resolved at", edited.Footer)
	assert.Contains(t, edited.Description, "Resolved by: Moddy")
	assert.Empty(t, h.fake.Reactions(card.MessageID))

	assert.Len(t, h.fake.SentTo("log"), 1)

	thanks := h.fake.SentTo("support")
	require.Len(t, thanks, 2)
	assert.Equal(t, "<@reporter> - Thank you for your report!", thanks[1].Message.Content)
}

func TestReaction_NonStaffIgnored(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)

	h.react(t, "spam", card.MessageID, "pleb", EmojiConfirm)
	h.react(t, "spam", card.MessageID, "bot", EmojiConfirm)

	assert.Empty(t, h.fake.Calls("Ban"))
	assert.Equal(t, e.ReportOpen, h.store.get(t, card.MessageID).State)
}

func TestReaction_SuperAdmin(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)

	h.react(t, "spam", card.MessageID, "root", EmojiConfirm)

	require.Len(t, h.fake.Calls("Ban"), 1)
	assert.Equal(t, "Banned for spamming by root", h.fake.Calls("Ban")[0].Args[2])
}

func TestReaction_BanForbidden(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)
	h.fake.FailWith("Ban", platform.ErrForbidden)

	h.react(t, "spam", card.MessageID, "mod", EmojiConfirm)

	last := h.reportCard(t)
	assert.Equal(t, MsgMissingBanPerms, last.Message.Content)
	assert.Equal(t, e.ReportOpen, h.store.get(t, card.MessageID).State)
}

func TestReaction_AccountDeleted(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)
	h.fake.FailWith("Ban", platform.ErrNotFound)

	h.react(t, "spam", card.MessageID, "mod", EmojiConfirm)

	assert.Equal(t, e.ReportResolvedAccountDeleted, h.store.get(t, card.MessageID).State)
	assert.Equal(t, "Resolved: Scam detected - USER account deleted!", lastEdit(t, h.fake, card.MessageID).Card.Title)
}

func TestReaction_NotSpamThenTerminal(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)

	h.react(t, "spam", card.MessageID, "mod", EmojiCancel)
	assert.Equal(t, e.ReportResolvedNotSpam, h.store.get(t, card.MessageID).State)
	assert.Equal(t, "Resolved: Not Spam", lastEdit(t, h.fake, card.MessageID).Card.Title)

	h.react(t, "spam", card.MessageID, "mod", EmojiConfirm)
	assert.Empty(t, h.fake.Calls("Ban"))
}

func TestReaction_ConcurrentConfirmBansOnce(t *testing.T) {
	h := newHarness(t, spamText)
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	card := h.reportCard(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.wf.HandleReaction(context.Background(), platform.ReactionAdded{
				GuildID: "g1", ChannelID: "spam", MessageID: card.MessageID, UserID: "mod", Emoji: EmojiConfirm,
			})
		}()
	}
	wg.Wait()

	assert.Len(t, h.fake.Calls("Ban"), 1)
}

// specifyHook answers the member selection prompt with text and confirms the
// first picker page.
func (h *harness) specifyHook(text string, confirm bool) {
	h.fake.OnSend = func(s platformtest.Sent) {
		switch {
		case s.Message.Card != nil && s.Message.Card.Title == "Member Selection":
			h.messages.Publish(platform.MessageCreated{Message: e.Message{
				ID: "typed", GuildID: "g1", ChannelID: s.ChannelID, Author: e.Member{ID: "mod"}, Text: text,
			}})
		case isPickerPage(s):
			emoji := EmojiCancel
			if confirm {
				emoji = EmojiConfirm
			}
			h.reactions.Publish(platform.ReactionAdded{GuildID: "g1", ChannelID: s.ChannelID, MessageID: s.MessageID, UserID: "mod", Emoji: emoji})
		}
	}
}

func (h *harness) manualCard(t *testing.T) platformtest.Sent {
	t.Helper()
	h.ocr.set(ocrResult{err: assert.AnError})
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	return h.reportCard(t)
}

func TestSpecify_TypedNameAndPick(t *testing.T) {
	h := newHarness(t, "")
	old := h.manualCard(t)
	h.specifyHook("scammer 99", true)

	h.react(t, "spam", old.MessageID, "mod", EmojiSpecify)

	assert.Equal(t, e.ReportMovedForSpecification, h.store.get(t, old.MessageID).State)
	assert.Equal(t, "Resolved: Moved below for member specification.", lastEdit(t, h.fake, old.MessageID).Card.Title)

	var fresh platformtest.Sent
	for _, s := range h.fake.SentTo("spam") {
		if strings.HasPrefix(s.Message.Content, "SPAM Report") && s.MessageID != old.MessageID {
			fresh = s
		}
	}
	require.NotEmpty(t, fresh.MessageID)

	r := h.store.get(t, fresh.MessageID)
	assert.Equal(t, e.ReportResolvedBanned, r.State)
	assert.Equal(t, "u9", r.CandidateID)
	require.Len(t, h.fake.Calls("Ban"), 1)
	assert.Equal(t, "u9", h.fake.Calls("Ban")[0].Args[1])
	assert.Contains(t, h.fake.Deleted(), "typed")
}

func TestSpecify_Resolve(t *testing.T) {
	h := newHarness(t, "")
	old := h.manualCard(t)
	h.specifyHook("RESOLVE", false)

	h.react(t, "spam", old.MessageID, "mod", EmojiSpecify)

	sent := h.fake.SentTo("spam")
	var resolved int
	for _, s := range sent {
		if r, err := h.store.GetReport(context.Background(), "g1", s.MessageID); err == nil && r.State == e.ReportResolvedAccountDeleted {
			resolved++
			assert.Equal(t, "Resolved: Scam detected - Account not found!", lastEdit(t, h.fake, s.MessageID).Card.Title)
		}
	}
	assert.Equal(t, 1, resolved)
	assert.Empty(t, h.fake.Calls("Ban"))
}

func TestSpecify_CancelReopens(t *testing.T) {
	h := newHarness(t, "")
	old := h.manualCard(t)
	h.specifyHook("CANCEL", false)

	h.react(t, "spam", old.MessageID, "mod", EmojiSpecify)

	var reopened []string
	for _, s := range h.fake.SentTo("spam") {
		if r, err := h.store.GetReport(context.Background(), "g1", s.MessageID); err == nil && r.State == e.ReportOpen {
			reopened = append(reopened, s.MessageID)
		}
	}
	require.Len(t, reopened, 1)
	assert.Equal(t, []string{EmojiSpecify, EmojiCancel}, h.fake.Reactions(reopened[0]))
}

func TestSpecify_Timeout(t *testing.T) {
	h := newHarness(t, "")
	h.wf.NameTimeout = 20 * time.Millisecond
	old := h.manualCard(t)

	h.react(t, "spam", old.MessageID, "mod", EmojiSpecify)

	var fresh string
	for _, s := range h.fake.SentTo("spam") {
		if r, err := h.store.GetReport(context.Background(), "g1", s.MessageID); err == nil && r.State == e.ReportOpen {
			fresh = s.MessageID
		}
	}
	require.NotEmpty(t, fresh)
	assert.Equal(t, "Timed out! Member not specified in time!", lastEdit(t, h.fake, fresh).Card.Title)
}

func TestRecheck(t *testing.T) {
	h := newHarness(t, "hello there")
	require.NoError(t, h.wf.HandleMessage(context.Background(), submission("s1")))
	require.Empty(t, h.fake.SentTo("spam"))

	h.ocr.set(ocrResult{text: spamText})

	h.react(t, "support", "s1", "pleb", EmojiRecheck)
	assert.Empty(t, h.fake.SentTo("spam"))

	h.react(t, "support", "s1", "mod", EmojiRecheck)
	require.Len(t, h.fake.SentTo("spam"), 1)
	// re-checks don't post a placeholder
	assert.Len(t, h.fake.SentTo("support"), 1)
	assert.Len(t, h.fake.Calls("RemoveReaction"), 1)

	// unknown submissions are skipped
	h.react(t, "support", "nope", "mod", EmojiRecheck)
	assert.Len(t, h.fake.SentTo("spam"), 1)
}

func TestCheckImpersonation(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	policy := workflowPolicy()

	imp := e.Member{ID: "imp", GuildID: "g1", Name: "totally_legit", DisplayName: "moddy"}
	h.fake.PutMember(imp)
	require.NoError(t, h.wf.CheckImpersonation(ctx, imp, policy))

	cards := h.fake.SentTo("dups")
	require.Len(t, cards, 1)
	assert.Equal(t, "DUPLICATE Report for UID: imp", cards[0].Message.Content)
	assert.Contains(t, cards[0].Message.Card.Description, "moddy")
	assert.Equal(t, []string{EmojiConfirm, EmojiCancel}, h.fake.Reactions(cards[0].MessageID))

	h.react(t, "dups", cards[0].MessageID, "mod", EmojiConfirm)

	bans := h.fake.Calls("Ban")
	require.Len(t, bans, 1)
	assert.Equal(t, "Banned for duplicate name by Moddy", bans[0].Args[2])
	assert.Equal(t, e.ReportResolvedBanned, h.store.get(t, cards[0].MessageID).State)
	// reporters are thanked for spam only
	assert.Empty(t, h.fake.SentTo("support"))
}

func TestCheckImpersonation_NoMatch(t *testing.T) {
	h := newHarness(t, "")

	m := e.Member{ID: "new", GuildID: "g1", Name: "someone", DisplayName: "Someone Else"}
	require.NoError(t, h.wf.CheckImpersonation(context.Background(), m, workflowPolicy()))
	assert.Empty(t, h.fake.SentTo("dups"))
}
