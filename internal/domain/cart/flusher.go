package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFlushDelay is the debounce window for cart writes.
const DefaultFlushDelay = 500 * time.Millisecond

// FlushFunc persists the current state.
type FlushFunc func(ctx context.Context) error

// Flusher debounces writes: every ScheduleFlush restarts the delay, and fn
// runs once the cart has been idle for the whole window. Failed flushes are
// rescheduled.
type Flusher struct {
	delay time.Duration
	fn    FlushFunc
	lg    *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool

	run sync.Mutex // serializes fn
}

// NewFlusher creates a Flusher. A non-positive delay means DefaultFlushDelay.
func NewFlusher(delay time.Duration, fn FlushFunc, lg *zap.Logger) *Flusher {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Flusher{delay: delay, fn: fn, lg: lg}
}

// ScheduleFlush marks state dirty and (re)starts the debounce timer.
func (f *Flusher) ScheduleFlush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.pending = true
	f.arm()
}

func (f *Flusher) arm() {
	if f.timer == nil {
		f.timer = time.AfterFunc(f.delay, f.fire)
		return
	}
	f.timer.Reset(f.delay)
}

func (f *Flusher) fire() {
	if !f.Pending() {
		return
	}
	if err := f.FlushNow(context.Background()); err != nil {
		f.lg.Warn("Cart flush failed, rescheduled", zap.Error(err))
	}
}

// FlushNow cancels the timer and runs fn immediately. On error the flush is
// rescheduled and the error returned.
func (f *Flusher) FlushNow(ctx context.Context) error {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.pending = false
	f.mu.Unlock()

	f.run.Lock()
	err := f.fn(ctx)
	f.run.Unlock()

	if err != nil {
		f.mu.Lock()
		f.pending = true
		if !f.stopped {
			f.arm()
		}
		f.mu.Unlock()
	}
	return err
}

// Pending reports whether a scheduled flush has not run yet.
func (f *Flusher) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Stop cancels any scheduled flush. It does not flush.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
	}
}
