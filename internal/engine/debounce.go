package engine

import (
	"context"
	"sync"
	"time"
)

// Debouncer delays a call until no new call has arrived for the wait period.
// Only the last scheduled call runs.
type Debouncer struct {
	mu      sync.Mutex
	wait    time.Duration
	timer   *time.Timer
	pending func(context.Context) error
	onErr   func(error)
}

// NewDebouncer creates a debouncer. onErr receives failures of calls fired by
// the timer; it may be nil.
func NewDebouncer(wait time.Duration, onErr func(error)) *Debouncer {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Debouncer{wait: wait, onErr: onErr}
}

// Schedule replaces any pending call with fn and restarts the wait.
func (d *Debouncer) Schedule(fn func(context.Context) error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fire)
}

// Flush runs the pending call now, if any, and returns its error.
func (d *Debouncer) Flush(ctx context.Context) error {
	fn := d.take()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Pending reports whether a call is waiting.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop discards the pending call.
func (d *Debouncer) Stop() {
	d.take()
}

func (d *Debouncer) fire() {
	fn := d.take()
	if fn == nil {
		return
	}
	if err := fn(context.Background()); err != nil {
		d.onErr(err)
	}
}

func (d *Debouncer) take() func(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.pending
	d.pending = nil
	return fn
}
