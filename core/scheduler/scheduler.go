// Package scheduler provides one-shot delayed callbacks with cancellable
// handles. Callbacks run on their own goroutines and never block the caller.
package scheduler

import (
	"sync"
	"time"

	"github.com/m3rciful/doorman/core/logger"
	"log/slog"
)

// Handle owns a single scheduled callback. Cancel is idempotent and is
// linearized against the callback: once Cancel returns true, the callback
// will never run.
type Handle struct {
	mu    sync.Mutex
	timer *time.Timer
	// done is set when the callback has started or the handle was cancelled.
	done bool
}

// Cancel prevents a not-yet-fired callback from running. It reports whether
// the firing was actually prevented; cancelling an already-fired or
// already-cancelled handle is a no-op returning false.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	if h.timer != nil {
		h.timer.Stop()
	}
	return true
}

// Scheduler arms one-shot timers and tracks in-flight callbacks so they can
// be drained on shutdown.
type Scheduler struct {
	name string
	wg   sync.WaitGroup
}

// New returns a Scheduler; name scopes its log output.
func New(name string) *Scheduler {
	return &Scheduler{name: name}
}

// Schedule arranges for fn to run once after at least delay has elapsed.
// A non-positive delay fires as soon as possible.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Handle {
	h := &Handle{}
	if delay < 0 {
		delay = 0
	}

	h.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.done {
			h.mu.Unlock()
			return
		}
		h.done = true
		s.wg.Add(1)
		h.mu.Unlock()
		defer s.wg.Done()

		defer func() {
			if r := recover(); r != nil {
				logger.Error(logger.Background(), "sched", "callback.panic",
					slog.String("scheduler", s.name),
					slog.Any("err", r),
				)
			}
		}()
		fn()
	})
	return h
}

// Wait blocks until all callbacks that have started executing return.
// Timers still pending are not waited for; cancel them first during shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
