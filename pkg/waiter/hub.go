// Package waiter lets a task block until a matching platform event arrives.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"nuclight.org/gatekeeper/pkg/logger"
)

var ErrTimeout = errors.New("wait timed out")

const subscriptionBuffer = 16

// Hub fans published events out to matching subscriptions. The zero value
// is ready to use; Log is optional.
type Hub[E any] struct {
	Log logger.Logger

	mu      sync.Mutex
	subs    map[*Subscription[E]]struct{}
	dropped atomic.Int64
}

type Subscription[E any] struct {
	hub   *Hub[E]
	match func(E) bool
	ch    chan E
	once  sync.Once
}

// Subscribe registers interest in events accepted by match. The caller must
// Close the subscription.
func (h *Hub[E]) Subscribe(match func(E) bool) *Subscription[E] {
	s := &Subscription[E]{
		hub:   h,
		match: match,
		ch:    make(chan E, subscriptionBuffer),
	}

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*Subscription[E]]struct{})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

// Publish delivers ev to every matching subscription and returns how many
// received it. Slow subscribers with a full buffer miss the event.
func (h *Hub[E]) Publish(ev E) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.subs {
		if s.match != nil && !s.match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
			delivered++
		default:
			h.dropped.Add(1)
			if h.Log != nil {
				h.Log.Debug("subscription buffer full, event dropped", "event", fmt.Sprintf("%T", ev), "buffer", subscriptionBuffer)
			}
		}
	}

	return delivered
}

// Dropped returns how many deliveries were lost to full buffers.
func (h *Hub[E]) Dropped() int64 {
	return h.dropped.Load()
}

// Wait is a one-shot Subscribe + Next.
func (h *Hub[E]) Wait(ctx context.Context, timeout time.Duration, match func(E) bool) (E, error) {
	s := h.Subscribe(match)
	defer s.Close()

	return s.Next(ctx, timeout)
}

func (h *Hub[E]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Next blocks until a matching event, the timeout or context cancellation.
// A non-positive timeout waits indefinitely.
func (s *Subscription[E]) Next(ctx context.Context, timeout time.Duration) (E, error) {
	var zero E
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ev := <-s.ch:
		return ev, nil
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// NextUntil is Next bounded by an absolute deadline.
func (s *Subscription[E]) NextUntil(ctx context.Context, deadline time.Time) (E, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		var zero E
		return zero, ErrTimeout
	}
	return s.Next(ctx, remaining)
}

func (s *Subscription[E]) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
	})
}
