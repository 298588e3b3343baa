// Package activity counts member messages. Counts are buffered in memory and
// flushed to the store in batches.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
)

type CountStore interface {
	AddMessageCounts(ctx context.Context, counts map[e.MemberKey]int) error
	MessageCount(ctx context.Context, key e.MemberKey) (int, error)
}

type Tracker struct {
	Log           logger.Logger
	Store         CountStore
	FlushInterval time.Duration

	mu      sync.Mutex
	pending map[e.MemberKey]int
}

func (t *Tracker) Record(key e.MemberKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		t.pending = make(map[e.MemberKey]int)
	}
	t.pending[key]++
}

// MessageCount returns stored plus not yet flushed messages.
func (t *Tracker) MessageCount(ctx context.Context, key e.MemberKey) (int, error) {
	stored, err := t.Store.MessageCount(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("getting stored count: %w", err)
	}

	t.mu.Lock()
	buffered := t.pending[key]
	t.mu.Unlock()

	return stored + buffered, nil
}

// Flush writes buffered counts. On failure the counts are merged back.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := t.Store.AddMessageCounts(ctx, batch); err != nil {
		t.mu.Lock()
		if t.pending == nil {
			t.pending = make(map[e.MemberKey]int, len(batch))
		}
		for k, n := range batch {
			t.pending[k] += n
		}
		t.mu.Unlock()
		return fmt.Errorf("adding message counts: %w", err)
	}

	t.Log.Debug("message counts flushed", "members", len(batch))
	return nil
}

// Run flushes every FlushInterval until ctx is done, then flushes once more.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := t.Flush(flushCtx); err != nil {
				t.Log.Error("final message count flush", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.Log.Error("flushing message counts", "error", err)
			}
		}
	}
}
