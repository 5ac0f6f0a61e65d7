package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
)

// Snapshot is the journey view as last shown: the pages loaded so far.
type Snapshot struct {
	Items   journal.Log `json:"items"`
	HasMore bool        `json:"hasMore"`
	Page    int         `json:"page"`
	SavedAt time.Time   `json:"savedAt"`
}

// SnapshotCache holds journey snapshots between screen visits.
//
// Implementations expire entries after their TTL. A miss is reported with
// ok=false, never an error.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (snap Snapshot, ok bool, err error)
	Put(ctx context.Context, key string, snap Snapshot) error
	Invalidate(ctx context.Context, key string) error
}

// MemorySnapshotCache is an in-process SnapshotCache.
type MemorySnapshotCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   daykey.Clock
	entries map[string]Snapshot
}

// NewMemorySnapshotCache creates a cache whose entries live for ttl.
// A ttl <= 0 means entries never expire.
func NewMemorySnapshotCache(ttl time.Duration, clock daykey.Clock) *MemorySnapshotCache {
	if clock == nil {
		clock = daykey.SystemClock{}
	}
	return &MemorySnapshotCache{ttl: ttl, clock: clock, entries: make(map[string]Snapshot)}
}

// Get returns the snapshot for key unless it is missing or expired.
func (c *MemorySnapshotCache) Get(_ context.Context, key string) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false, nil
	}
	if c.ttl > 0 && c.clock.Now().Sub(snap.SavedAt) >= c.ttl {
		delete(c.entries, key)
		return Snapshot{}, false, nil
	}
	return cloneSnapshot(snap), true, nil
}

// Put stores snap under key, stamping SavedAt.
func (c *MemorySnapshotCache) Put(_ context.Context, key string, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap = cloneSnapshot(snap)
	snap.SavedAt = c.clock.Now()
	c.entries[key] = snap
	return nil
}

// Invalidate drops key.
func (c *MemorySnapshotCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// RedisSnapshotCache shares snapshots across processes through Redis.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSnapshotCache wraps client. Keys are namespaced under
// "sadhana:journey:".
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl, prefix: "sadhana:journey:"}
}

// NewRedisSnapshotCacheFromURL parses a redis:// URL and connects.
func NewRedisSnapshotCacheFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisSnapshotCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis snapshot cache: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis snapshot cache: ping: %w", err)
	}
	return NewRedisSnapshotCache(client, ttl), nil
}

// Get returns the snapshot for key, if present.
func (c *RedisSnapshotCache) Get(ctx context.Context, key string) (Snapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Put stores snap with the cache TTL.
func (c *RedisSnapshotCache) Put(ctx context.Context, key string, snap Snapshot) error {
	snap.SavedAt = time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot put: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, max(c.ttl, 0)).Err(); err != nil {
		return fmt.Errorf("snapshot put: %w", err)
	}
	return nil
}

// Invalidate drops key.
func (c *RedisSnapshotCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("snapshot invalidate: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

func cloneSnapshot(s Snapshot) Snapshot {
	items := make(journal.Log, len(s.Items))
	copy(items, s.Items)
	s.Items = items
	return s
}
