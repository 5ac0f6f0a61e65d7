package daykey

import (
	"sync"
	"time"
)

// Clock supplies the current wall time. Day keys are always derived from the
// clock's local calendar day, never from a global time.Now.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the process wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// NewFixedClockAt creates a clock frozen at noon local time on dayKey.
// Panics on a malformed key; intended for tests.
func NewFixedClockAt(dayKey string) *FixedClock {
	t, err := time.ParseInLocation(Layout, dayKey, time.Local)
	if err != nil {
		panic("daykey: bad fixed clock day " + dayKey)
	}
	return NewFixedClock(t.Add(12 * time.Hour))
}

// Now returns the frozen instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
