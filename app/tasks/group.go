// Package tasks runs event handlers as isolated goroutines: a panic in one
// task is recovered, logged and reported without touching the others.
package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/pkg/logger"
)

type Group struct {
	Log     logger.Logger
	Metrics *metrics.Metrics

	wg sync.WaitGroup
}

// Go runs fn in its own goroutine.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.Run(name, fn)
	}()
}

// Run calls fn in the current goroutine and recovers a panic. It reports
// whether fn returned normally.
func (g *Group) Run(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			g.Metrics.IncPanic()
			g.Log.Error("panic", "task", name, "error", fmt.Sprint(r))

			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("task", name)
			})
			hub.Recover(r)
		}
	}()

	fn()
	return true
}

// Wait blocks until every started task returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitTimeout waits at most d and reports whether all tasks finished.
func (g *Group) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
