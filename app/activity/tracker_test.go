package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	e "nuclight.org/gatekeeper/pkg/entities"
)

type memStore struct {
	mu     sync.Mutex
	counts map[e.MemberKey]int
	fail   error
	calls  int
}

func (s *memStore) AddMessageCounts(_ context.Context, counts map[e.MemberKey]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	if s.counts == nil {
		s.counts = map[e.MemberKey]int{}
	}
	for k, n := range counts {
		s.counts[k] += n
	}
	return nil
}

func (s *memStore) MessageCount(_ context.Context, key e.MemberKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTracker_CountIncludesBuffer(t *testing.T) {
	store := &memStore{}
	tr := &Tracker{Log: testLogger(), Store: store}
	key := e.MemberKey{GuildID: "g", MemberID: "u"}
	ctx := context.Background()

	tr.Record(key)
	tr.Record(key)

	n, err := tr.MessageCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, tr.Flush(ctx))
	tr.Record(key)

	n, err = tr.MessageCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, store.counts[key])
}

func TestTracker_FlushFailureKeepsCounts(t *testing.T) {
	store := &memStore{fail: errors.New("disk full")}
	tr := &Tracker{Log: testLogger(), Store: store}
	key := e.MemberKey{GuildID: "g", MemberID: "u"}

	tr.Record(key)
	require.Error(t, tr.Flush(context.Background()))

	store.fail = nil
	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, 1, store.counts[key])
}

func TestTracker_RunFlushesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memStore{}
	tr := &Tracker{Log: testLogger(), Store: store, FlushInterval: time.Hour}
	key := e.MemberKey{GuildID: "g", MemberID: "u"}
	tr.Record(key)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	assert.Equal(t, 1, store.counts[key])
}
