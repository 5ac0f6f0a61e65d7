package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/journal"
)

// DefaultPageSize is the journey page size.
const DefaultPageSize = 10

// Journey pages through the log for an infinite-scroll view.
//
// It keeps the pages loaded so far in a SnapshotCache so returning to the
// view does not refetch. The cache is invalidated by Load(force=true), by TTL
// expiry, and replaced after every Add or Delete with the first page of the
// returned full log.
type Journey struct {
	eng      *Engine
	cache    SnapshotCache
	key      string
	pageSize int
	logger   *zap.Logger

	mu       sync.Mutex
	fetching bool
	snap     Snapshot
}

// JourneyOption configures a Journey.
type JourneyOption func(*Journey)

// WithPageSize sets the page size.
func WithPageSize(n int) JourneyOption {
	return func(j *Journey) {
		if n > 0 {
			j.pageSize = n
		}
	}
}

// WithCacheKey overrides the snapshot cache key.
func WithCacheKey(key string) JourneyOption {
	return func(j *Journey) {
		if key != "" {
			j.key = key
		}
	}
}

// NewJourney creates a paginator over eng. A nil cache disables caching
// between Journey instances.
func NewJourney(eng *Engine, cache SnapshotCache, opts ...JourneyOption) *Journey {
	if cache == nil {
		cache = NewMemorySnapshotCache(0, nil)
	}
	j := &Journey{
		eng:      eng,
		cache:    cache,
		key:      eng.LogKey() + ":" + eng.Mode().String(),
		pageSize: DefaultPageSize,
		logger:   eng.logger,
		snap:     Snapshot{Items: journal.Log{}, HasMore: true, Page: 1},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Snapshot returns the current view.
func (j *Journey) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return cloneSnapshot(j.snap)
}

// Load shows the first page. Without force a live cached snapshot is reused,
// including any further pages it holds. A load already in progress makes
// this a no-op returning the current view.
func (j *Journey) Load(ctx context.Context, force bool) (Snapshot, error) {
	if !force {
		snap, ok, err := j.cache.Get(ctx, j.key)
		if err != nil {
			j.logger.Warn("journey: snapshot cache read failed", zap.Error(err))
		}
		if ok && len(snap.Items) > 0 {
			j.mu.Lock()
			j.snap = snap
			j.mu.Unlock()
			return cloneSnapshot(snap), nil
		}
	}

	if !j.begin() {
		return j.Snapshot(), nil
	}
	defer j.end()

	page, err := j.eng.LoadPage(ctx, 1, j.pageSize)
	if err != nil {
		return j.Snapshot(), err
	}
	return j.publish(ctx, Snapshot{Items: page.Items, HasMore: page.HasMore, Page: 1}), nil
}

// LoadNext appends the next page. It is a no-op when nothing more exists or
// another load is running.
func (j *Journey) LoadNext(ctx context.Context) (Snapshot, error) {
	j.mu.Lock()
	if j.fetching || !j.snap.HasMore {
		snap := cloneSnapshot(j.snap)
		j.mu.Unlock()
		return snap, nil
	}
	j.fetching = true
	cur := cloneSnapshot(j.snap)
	j.mu.Unlock()
	defer j.end()

	next := cur.Page + 1
	page, err := j.eng.LoadPage(ctx, next, j.pageSize)
	if err != nil {
		return cur, err
	}
	items := append(cur.Items, page.Items...)
	return j.publish(ctx, Snapshot{Items: items, HasMore: page.HasMore, Page: next}), nil
}

// Add records ev and resets the view to the first page of the new log.
func (j *Journey) Add(ctx context.Context, ev journal.Event, hooks ...CommitHook) (Snapshot, Result, error) {
	res, err := j.eng.AddItem(ctx, ev, hooks...)
	if err != nil {
		return j.Snapshot(), Result{}, err
	}
	return j.resetTo(ctx, res.Log), res, nil
}

// Delete removes one occurrence of ev and resets the view to the first page
// of the new log.
func (j *Journey) Delete(ctx context.Context, ev journal.Event, hooks ...CommitHook) (Snapshot, Result, error) {
	res, err := j.eng.DeleteItem(ctx, ev, hooks...)
	if err != nil {
		return j.Snapshot(), Result{}, err
	}
	return j.resetTo(ctx, res.Log), res, nil
}

// Invalidate drops the cached snapshot.
func (j *Journey) Invalidate(ctx context.Context) error {
	return j.cache.Invalidate(ctx, j.key)
}

func (j *Journey) resetTo(ctx context.Context, full journal.Log) Snapshot {
	first := journal.Slice(full, 1, j.pageSize)
	return j.publish(ctx, Snapshot{Items: first.Items, HasMore: first.HasMore, Page: 1})
}

func (j *Journey) publish(ctx context.Context, snap Snapshot) Snapshot {
	if snap.Items == nil {
		snap.Items = journal.Log{}
	}
	j.mu.Lock()
	j.snap = cloneSnapshot(snap)
	j.mu.Unlock()

	if err := j.cache.Put(ctx, j.key, snap); err != nil {
		j.logger.Warn("journey: snapshot cache write failed", zap.Error(err))
	}
	return cloneSnapshot(snap)
}

func (j *Journey) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fetching {
		return false
	}
	j.fetching = true
	return true
}

func (j *Journey) end() {
	j.mu.Lock()
	j.fetching = false
	j.mu.Unlock()
}
