package bot

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/tasks"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/waiter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []string
	keys   []e.MemberKey
	handle bool
	panic  bool
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) HandleJoin(_ context.Context, m e.Member) error {
	if r.panic {
		panic("boom")
	}
	r.add("join:" + m.ID)
	return nil
}

func (r *recorder) HandleMemberUpdate(_ context.Context, _ *e.Member, m e.Member) error {
	r.add("update:" + m.ID)
	return nil
}

func (r *recorder) HandleMessage(_ context.Context, msg e.Message) error {
	r.add("report:" + msg.ID)
	return nil
}

func (r *recorder) HandleReaction(_ context.Context, ev platform.ReactionAdded) error {
	r.add("reaction:" + ev.Emoji)
	return nil
}

func (r *recorder) Record(key e.MemberKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

type commandStub struct {
	rec *recorder
}

func (c commandStub) HandleMessage(_ context.Context, msg e.Message) (bool, error) {
	if msg.Text == "!cmd" {
		c.rec.add("command:" + msg.ID)
		return true, nil
	}
	return false, nil
}

func newRouter(rec *recorder) *Router {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Router{
		Log:          log,
		Verification: rec,
		Reports:      rec,
		Commands:     commandStub{rec: rec},
		Activity:     rec,
		Tasks:        &tasks.Group{Log: log},
		Messages:     &waiter.Hub[platform.MessageCreated]{},
		Reactions:    &waiter.Hub[platform.ReactionAdded]{},
		Buttons:      &waiter.Hub[platform.ButtonPressed]{},
	}
}

func TestRouter_Dispatch(t *testing.T) {
	rec := &recorder{}
	r := newRouter(rec)
	ctx := context.Background()

	r.HandleEvent(ctx, platform.MemberJoined{Member: e.Member{ID: "u1", GuildID: "g1"}})
	r.HandleEvent(ctx, platform.MemberUpdated{After: e.Member{ID: "u2", GuildID: "g1"}})
	r.HandleEvent(ctx, platform.MessageCreated{Message: e.Message{ID: "m1", GuildID: "g1", Author: e.Member{ID: "u1", GuildID: "g1"}}})
	r.HandleEvent(ctx, platform.MessageCreated{Message: e.Message{ID: "m2", GuildID: "g1", Text: "!cmd", Author: e.Member{ID: "u1", GuildID: "g1"}}})
	r.HandleEvent(ctx, platform.MessageCreated{Message: e.Message{ID: "m3", GuildID: "g1", Author: e.Member{ID: "b", GuildID: "g1", Bot: true}}})
	r.HandleEvent(ctx, platform.ReactionAdded{GuildID: "g1", Emoji: "✅"})
	r.Wait()

	assert.ElementsMatch(t, []string{"join:u1", "update:u2", "report:m1", "command:m2", "report:m3", "reaction:✅"}, rec.Events())
	assert.Equal(t, []e.MemberKey{{GuildID: "g1", MemberID: "u1"}, {GuildID: "g1", MemberID: "u1"}}, rec.keys)
}

func TestRouter_PublishesToWaiters(t *testing.T) {
	rec := &recorder{}
	r := newRouter(rec)
	ctx := context.Background()

	reactions := r.Reactions.Subscribe(nil)
	defer reactions.Close()
	buttons := r.Buttons.Subscribe(nil)
	defer buttons.Close()
	messages := r.Messages.Subscribe(nil)
	defer messages.Close()

	r.HandleEvent(ctx, platform.ReactionAdded{GuildID: "g1", MessageID: "x", Emoji: "➡️"})
	r.HandleEvent(ctx, platform.ButtonPressed{GuildID: "g1", ButtonID: "captcha:t:0:0"})
	r.HandleEvent(ctx, platform.MessageCreated{Message: e.Message{ID: "m1", GuildID: "g1"}})
	r.Wait()

	ev, err := reactions.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "➡️", ev.Emoji)

	btn, err := buttons.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "captcha:t:0:0", btn.ButtonID)

	msg, err := messages.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.Message.ID)
}

func TestRouter_PanicIsolated(t *testing.T) {
	rec := &recorder{panic: true}
	r := newRouter(rec)
	ctx := context.Background()

	r.HandleEvent(ctx, platform.MemberJoined{Member: e.Member{ID: "u1", GuildID: "g1"}})
	r.HandleEvent(ctx, platform.ReactionAdded{GuildID: "g1", Emoji: "❌"})
	r.Wait()

	assert.Equal(t, []string{"reaction:❌"}, rec.Events())
}
