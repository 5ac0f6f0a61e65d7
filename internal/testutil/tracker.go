// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
	"github.com/roach88/sadhana/internal/store"
)

// FakeTracker is an in-memory remote tracker with the server's rules: at
// most one record per (dayKey, itemId), and a duplicate submit fails with the
// "already opted" conflict.
//
// Pages are cut from the flat event list. Faults are injected through the
// exported hooks, which run before the fake applies its own logic.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeTracker struct {
	mu      sync.Mutex
	records journal.Log
	calls   map[string]int

	// OnFetch, OnSubmit and OnRemove may return an error to fail the call,
	// or block to simulate a slow server.
	OnFetch  func(ctx context.Context) error
	OnSubmit func(ctx context.Context, ev journal.Event) error
	OnRemove func(ctx context.Context, ev journal.Event) error
}

// Call names counted by FakeTracker.
const (
	CallFetchPage = "fetch_page"
	CallFetchAll  = "fetch_all"
	CallSubmit    = "submit"
	CallRemove    = "remove"
)

// NewFakeTracker creates a tracker already holding seed (duplicates dropped).
func NewFakeTracker(seed ...journal.Event) *FakeTracker {
	return &FakeTracker{
		records: journal.Dedupe(seed),
		calls:   make(map[string]int),
	}
}

// ErrNetwork is a transient fault suitable for injection.
var ErrNetwork = &remote.Error{Kind: remote.Transient, Message: "Network error"}

// FailFetches makes every fetch fail with err. Pass nil to heal.
func (f *FakeTracker) FailFetches(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.OnFetch = nil
		return
	}
	f.OnFetch = func(context.Context) error { return err }
}

// FetchPage returns the page-th slice of the sorted records.
func (f *FakeTracker) FetchPage(ctx context.Context, page, pageSize int) (journal.RemotePage, error) {
	if err := f.enter(ctx, CallFetchPage); err != nil {
		return journal.RemotePage{}, err
	}
	if hook := f.fetchHook(); hook != nil {
		if err := hook(ctx); err != nil {
			return journal.RemotePage{}, err
		}
	}

	all := f.Records()
	if pageSize < 1 {
		pageSize = 1
	}
	totalPages := (len(all) + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	p := journal.Slice(all, page, pageSize)
	return journal.RemotePage{Items: p.Items, TotalPages: totalPages, TotalResults: len(all)}, nil
}

// FetchAll returns every record, newest day first.
func (f *FakeTracker) FetchAll(ctx context.Context) (journal.Log, error) {
	if err := f.enter(ctx, CallFetchAll); err != nil {
		return nil, err
	}
	if hook := f.fetchHook(); hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	return f.Records(), nil
}

// Submit stores ev, or fails with a conflict if the pair is already held.
func (f *FakeTracker) Submit(ctx context.Context, ev journal.Event) error {
	if err := f.enter(ctx, CallSubmit); err != nil {
		return err
	}
	f.mu.Lock()
	hook := f.OnSubmit
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, ev); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	k := ev.Key()
	if journal.Contains(f.records, k) {
		return &remote.Error{
			Kind:    remote.Conflict,
			Status:  http.StatusBadRequest,
			Message: "Sadana already opted",
			Code:    remote.ConflictCode,
			Key:     &k,
		}
	}
	f.records = append(f.records, ev)
	return nil
}

// Remove deletes the record for ev, or fails with 404.
func (f *FakeTracker) Remove(ctx context.Context, ev journal.Event) error {
	if err := f.enter(ctx, CallRemove); err != nil {
		return err
	}
	f.mu.Lock()
	hook := f.OnRemove
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, ev); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	next, removed := journal.RemoveOne(f.records, ev.Key())
	if !removed {
		return &remote.Error{Kind: remote.Hard, Status: http.StatusNotFound, Message: "Tracker entry not found"}
	}
	f.records = next
	return nil
}

// Records returns the stored records, newest day first.
func (f *FakeTracker) Records() journal.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return journal.Sorted(f.records)
}

// Calls returns how many times the named method was invoked.
func (f *FakeTracker) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *FakeTracker) enter(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
	return ctx.Err()
}

func (f *FakeTracker) fetchHook() func(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OnFetch
}

// OpenStore opens a SQLite store in a temp dir, closed at test cleanup.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Events builds a log from alternating dayKey, itemId strings.
func Events(pairs ...string) journal.Log {
	out := make(journal.Log, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, journal.Event{DayKey: pairs[i], ItemID: pairs[i+1]})
	}
	return out
}
