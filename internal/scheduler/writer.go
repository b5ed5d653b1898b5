// Package scheduler coalesces bursts of durable write requests.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
)

// DefaultWindow is the debounce window used when none is given.
const DefaultWindow = 500 * time.Millisecond

const defaultFlushTimeout = 10 * time.Second

// CoalescingWriter turns many Schedule calls within one window into a
// single trailing call of flush. The flush function is expected to write
// whatever state is current when it runs.
//
// At most one flush runs at a time. A failed flush is logged and counted
// but never retried; the next Schedule arms a new attempt.
type CoalescingWriter struct {
	window       time.Duration
	flush        func(ctx context.Context) error
	flushTimeout time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	flushMu sync.Mutex
	timers  sync.WaitGroup
}

type Option func(*CoalescingWriter)

func WithLogger(logger zerolog.Logger) Option {
	return func(w *CoalescingWriter) {
		w.logger = logger
	}
}

// WithFlushTimeout bounds flushes started by the timer.
func WithFlushTimeout(d time.Duration) Option {
	return func(w *CoalescingWriter) {
		w.flushTimeout = d
	}
}

func NewCoalescingWriter(window time.Duration, flush func(ctx context.Context) error, opts ...Option) *CoalescingWriter {
	if window <= 0 {
		window = DefaultWindow
	}
	w := &CoalescingWriter{
		window:       window,
		flush:        flush,
		flushTimeout: defaultFlushTimeout,
		logger:       log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Schedule requests a flush at the end of the current window, restarting
// the window. It returns immediately. Calls after Close are ignored.
func (w *CoalescingWriter) Schedule() {
	metrics.SchedulerCallsTotal.Inc()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = true
	w.stopTimerLocked()
	w.timers.Add(1)
	w.timer = time.AfterFunc(w.window, w.fire)
}

// Pending reports whether a requested flush has not run yet.
func (w *CoalescingWriter) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// FlushNow cancels the timer and runs a pending flush synchronously.
// Without a pending request it does nothing.
func (w *CoalescingWriter) FlushNow(ctx context.Context) error {
	w.mu.Lock()
	w.stopTimerLocked()
	w.mu.Unlock()
	return w.run(ctx)
}

// Close flushes anything pending and waits for timer flushes to finish.
func (w *CoalescingWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	err := w.FlushNow(ctx)
	w.timers.Wait()
	return err
}

func (w *CoalescingWriter) stopTimerLocked() {
	if w.timer != nil && w.timer.Stop() {
		w.timers.Done()
	}
	w.timer = nil
}

func (w *CoalescingWriter) fire() {
	defer w.timers.Done()
	ctx, cancel := context.WithTimeout(context.Background(), w.flushTimeout)
	defer cancel()
	_ = w.run(ctx)
}

func (w *CoalescingWriter) run(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return nil
	}
	w.pending = false
	w.mu.Unlock()

	if err := w.flush(ctx); err != nil {
		metrics.IncSchedulerFlush("error")
		w.logger.Warn().Err(err).Msg("coalesced write failed, durable copy is stale until the next write")
		return err
	}
	metrics.IncSchedulerFlush("ok")
	return nil
}
