package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	e "nuclight.org/gatekeeper/pkg/entities"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLite_PhotoHashes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SavePhotoHash(ctx, "g1", "u1", "aa"))
	require.NoError(t, db.SavePhotoHash(ctx, "g1", "u1", "bb"))
	require.NoError(t, db.SavePhotoHash(ctx, "g2", "u2", "cc"))

	hashes, err := db.PhotoHashes(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	assert.Equal(t, "bb", hashes[0].Hash)
}

func TestSQLite_SavePhotoHashesBatches(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var batch []e.PhotoHash
	for i := 0; i < 2*BatchSize+7; i++ {
		batch = append(batch, e.PhotoHash{GuildID: "g1", UserID: fmt.Sprintf("u%d", i), Hash: fmt.Sprintf("%016x", i)})
	}
	require.NoError(t, db.SavePhotoHashes(ctx, batch))

	hashes, err := db.PhotoHashes(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, hashes, 2*BatchSize+7)
}

func TestSQLite_BannedPhotoHashes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SavePhotoHash(ctx, "g1", "u1", "aa"))
	require.NoError(t, db.SetBannedPhoto(ctx, "g1", "u2", "bb"))
	require.NoError(t, db.SetBannedPhoto(ctx, "g2", "u3", "cc"))

	banned, err := db.BannedPhotoHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"g1": {"bb"}, "g2": {"cc"}}, banned)
}

func TestSQLite_MessageCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	key := e.MemberKey{GuildID: "g1", MemberID: "u1"}

	n, err := db.MessageCount(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.AddMessageCounts(ctx, map[e.MemberKey]int{key: 3}))
	require.NoError(t, db.AddMessageCounts(ctx, map[e.MemberKey]int{key: 4}))
	require.NoError(t, db.AddMessageCounts(ctx, nil))

	n, err = db.MessageCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestSQLite_Reports(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetReport(ctx, "g1", "card")
	assert.ErrorIs(t, err, ErrNotFound)

	r := e.Report{
		Kind:        e.ReportKindSpam,
		State:       e.ReportOpen,
		GuildID:     "g1",
		ChannelID:   "reports",
		MessageID:   "card",
		ReporterID:  "u9",
		ImageURL:    "https://cdn.example/s.png",
		CandidateID: "u1",
		Candidates:  []string{"u1", "u2"},
	}
	require.NoError(t, db.SaveReport(ctx, r))

	got, err := db.GetReport(ctx, "g1", "card")
	require.NoError(t, err)
	assert.Equal(t, e.ReportOpen, got.State)
	assert.Equal(t, []string{"u1", "u2"}, got.Candidates)
	assert.True(t, got.ResolvedAt.IsZero())

	r.State = e.ReportResolvedBanned
	r.ResolvedBy = "mod"
	r.ResolvedAt = time.Now()
	require.NoError(t, db.SaveReport(ctx, r))

	got, err = db.GetReport(ctx, "g1", "card")
	require.NoError(t, err)
	assert.Equal(t, e.ReportResolvedBanned, got.State)
	assert.Equal(t, "mod", got.ResolvedBy)
	assert.False(t, got.ResolvedAt.IsZero())
	assert.Equal(t, "u9", got.ReporterID)
}
