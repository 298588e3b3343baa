package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"nuclight.org/gatekeeper/app/platform/platformtest"
	"nuclight.org/gatekeeper/app/state"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/phash"
)

type hasherMock struct {
	mock.Mock
}

func (m *hasherMock) Hash(ctx context.Context, imageURL string) (string, error) {
	args := m.Called(ctx, imageURL)
	return args.String(0), args.Error(1)
}

type photoStore struct {
	mu     sync.Mutex
	hashes []e.PhotoHash
	banned []e.PhotoHash
}

func (s *photoStore) SetBannedPhoto(_ context.Context, guildID, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned = append(s.banned, e.PhotoHash{GuildID: guildID, UserID: userID, Hash: hash})
	return nil
}

func (s *photoStore) PhotoHashes(_ context.Context, guildID string) ([]e.PhotoHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []e.PhotoHash
	for _, h := range s.hashes {
		if h.GuildID == guildID {
			res = append(res, h)
		}
	}
	return res, nil
}

type reloaderStub struct {
	calls int
	err   error
}

func (r *reloaderStub) Reload(context.Context) error {
	r.calls++
	return r.err
}

type fixture struct {
	cmds     *Commands
	fake     *platformtest.Fake
	hasher   *hasherMock
	photos   *photoStore
	reloader *reloaderStub
	st       *state.State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := state.New()
	st.ReplacePolicies(map[string]*e.GuildPolicy{"g1": {
		GuildID:        "g1",
		MinStaffRoleID: "staff",
		SuperAdminIDs:  []string{"root"},
	}})

	fake := platformtest.NewFake("bot")
	fake.PutRole(e.Role{ID: "staff", Position: 5})
	fake.PutMember(e.Member{ID: "mod", GuildID: "g1", TopRolePosition: 5})
	fake.PutMember(e.Member{ID: "user", GuildID: "g1"})
	fake.PutMember(e.Member{ID: "spammer", GuildID: "g1", AvatarURL: "https://cdn/spam.png"})
	fake.PutMember(e.Member{ID: "faceless", GuildID: "g1", DefaultAvatar: "3"})

	f := &fixture{
		fake:     fake,
		hasher:   &hasherMock{},
		reloader: &reloaderStub{},
		st:       st,
		photos: &photoStore{hashes: []e.PhotoHash{
			{GuildID: "g1", UserID: "spammer", Hash: "c3c3e1e1f0f0f8f8"},
			{GuildID: "g1", UserID: "twin", Hash: "c3c3e1e1f0f0f8f9"},
			{GuildID: "g1", UserID: "other", Hash: "0000000000000000"},
			{GuildID: "g2", UserID: "elsewhere", Hash: "c3c3e1e1f0f0f8f8"},
		}},
	}
	f.cmds = &Commands{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		State:    st,
		Actions:  fake,
		Hasher:   f.hasher,
		Photos:   f.photos,
		Reloader: f.reloader,
	}
	return f
}

func command(author, text string) e.Message {
	return e.Message{ID: "c1", GuildID: "g1", ChannelID: "staff-chat", Author: e.Member{ID: author, GuildID: "g1"}, Text: text}
}

func TestPhotoBlacklist(t *testing.T) {
	f := newFixture(t)
	f.hasher.On("Hash", mock.Anything, "https://cdn/spam.png").Return("c3c3e1e1f0f0f8f8", nil).Once()

	handled, err := f.cmds.HandleMessage(context.Background(), command("mod", "!photoblacklist <@spammer>"))
	require.NoError(t, err)
	assert.True(t, handled)
	f.hasher.AssertExpectations(t)

	assert.Equal(t, []e.PhotoHash{{GuildID: "g1", UserID: "spammer", Hash: "c3c3e1e1f0f0f8f8"}}, f.photos.banned)

	policy, ok := f.st.Policy("g1")
	require.True(t, ok)
	assert.Contains(t, policy.BannedPhotoHashes, "c3c3e1e1f0f0f8f8")

	replies := f.fake.SentTo("staff-chat")
	require.Len(t, replies, 1)
	desc := replies[0].Message.Card.Description
	assert.Contains(t, desc, "**1** stored members")
	assert.Contains(t, desc, "<@twin>")
	assert.NotContains(t, desc, "<@other>")
	assert.NotContains(t, desc, "<@elsewhere>")
}

func TestPhotoBlacklist_DefaultAvatar(t *testing.T) {
	f := newFixture(t)

	_, err := f.cmds.HandleMessage(context.Background(), command("root", "!photoblacklist faceless"))
	require.NoError(t, err)

	f.hasher.AssertNotCalled(t, "Hash", mock.Anything, mock.Anything)
	require.Len(t, f.photos.banned, 1)
	assert.Equal(t, phash.DefaultAvatarHash("3"), f.photos.banned[0].Hash)
}

func TestPhotoBlacklist_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	handled, err := f.cmds.HandleMessage(ctx, command("user", "!photoblacklist spammer"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, f.photos.banned)
	assert.Empty(t, f.fake.SentTo("staff-chat"))

	_, err = f.cmds.HandleMessage(ctx, command("mod", "!photoblacklist"))
	require.NoError(t, err)
	assert.Contains(t, f.fake.SentTo("staff-chat")[0].Message.Content, "Usage")

	_, err = f.cmds.HandleMessage(ctx, command("mod", "!photoblacklist ghost"))
	require.NoError(t, err)
	assert.Contains(t, f.fake.SentTo("staff-chat")[1].Message.Content, "No members found")
}

func TestPhotoBlacklist_HashFailure(t *testing.T) {
	f := newFixture(t)
	f.hasher.On("Hash", mock.Anything, mock.Anything).Return("", phash.ErrNoHash)

	_, err := f.cmds.HandleMessage(context.Background(), command("mod", "!photoblacklist spammer"))
	require.ErrorIs(t, err, phash.ErrNoHash)
	assert.Empty(t, f.photos.banned)
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cmds.HandleMessage(ctx, command("mod", "!reload"))
	require.NoError(t, err)
	assert.Zero(t, f.reloader.calls)

	_, err = f.cmds.HandleMessage(ctx, command("root", "!RELOAD"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.reloader.calls)
	assert.Equal(t, "Reloaded policies for 1 guilds.", f.fake.SentTo("staff-chat")[0].Message.Content)

	f.reloader.err = errors.New("bad yaml")
	_, err = f.cmds.HandleMessage(ctx, command("root", "!reload"))
	require.Error(t, err)
	assert.Contains(t, f.fake.SentTo("staff-chat")[1].Message.Content, "bad yaml")
}

func TestHandleMessage_NotACommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"hello", "!", "!unknown stuff", "photoblacklist spammer"} {
		handled, err := f.cmds.HandleMessage(ctx, command("root", text))
		require.NoError(t, err)
		assert.False(t, handled, text)
	}

	bot := command("root", "!reload")
	bot.Author.Bot = true
	handled, err := f.cmds.HandleMessage(ctx, bot)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, f.fake.Methods())
}
