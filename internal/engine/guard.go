package engine

import (
	"sync"

	"github.com/roach88/sadhana/internal/journal"
)

// InFlightGuard allows one outstanding write per (dayKey, itemId).
//
// A double tap on "mark done" would otherwise submit the same completion
// twice, and both requests could race past the remote duplicate check. The
// guard rejects the second caller instead of queueing it; the caller decides
// whether to retry.
//
// Thread-safe: all methods can be called concurrently.
type InFlightGuard struct {
	mu   sync.Mutex
	keys map[journal.Key]struct{}
}

// NewInFlightGuard creates an empty guard.
func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{keys: make(map[journal.Key]struct{})}
}

// TryAcquire claims k. It returns false if k is already held.
func (g *InFlightGuard) TryAcquire(k journal.Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.keys[k]; held {
		return false
	}
	g.keys[k] = struct{}{}
	return true
}

// Release frees k. Releasing a key that is not held is a no-op.
func (g *InFlightGuard) Release(k journal.Key) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.keys, k)
}

// Held reports whether k is currently claimed.
func (g *InFlightGuard) Held(k journal.Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, held := g.keys[k]
	return held
}

// Size returns the number of claimed keys.
//
// Used for testing and introspection.
func (g *InFlightGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.keys)
}
