package store

import (
	"context"
	"fmt"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
)

// Well-known keys. The log key is configurable; everything else is derived
// from it or fixed for compatibility with existing on-device data.
const (
	DefaultLogKey  = "sadhana_journey_v1"
	ExtrasSuffix   = ":extras"
	PointsKey      = "total_points"
	DoneMarksKey   = "completed_sadanas"
	LastResetKey   = "home_day"
	CatalogKey     = "sadhana_catalog_v1"
	guestSyncedFmt = "sadhana_guest_synced:%s"
)

// ExtrasKey derives the extras overlay key from the primary log key.
func ExtrasKey(logKey string) string {
	return logKey + ExtrasSuffix
}

// LogStore reads and writes one completion log under a single key.
//
// Read tolerates every legacy shape listed in migrate.go. When the stored
// value is not canonical it is rewritten in canonical form, so the migration
// happens once per value. Corrupt values read as an empty log.
type LogStore struct {
	kv    KV
	key   string
	clock daykey.Clock
}

// NewLogStore binds a log to key.
func NewLogStore(kv KV, key string, clock daykey.Clock) *LogStore {
	if clock == nil {
		clock = daykey.SystemClock{}
	}
	return &LogStore{kv: kv, key: key, clock: clock}
}

// NewExtrasStore binds the extras overlay of the log stored under logKey.
func NewExtrasStore(kv KV, logKey string, clock daykey.Clock) *LogStore {
	return NewLogStore(kv, ExtrasKey(logKey), clock)
}

// With returns a copy of the store bound to kv (typically a *Tx).
func (l *LogStore) With(kv KV) *LogStore {
	return &LogStore{kv: kv, key: l.key, clock: l.clock}
}

// Key returns the storage key.
func (l *LogStore) Key() string {
	return l.key
}

// Read loads the log. An absent key or an unparsable value yields an empty
// log and no error; only storage failures are returned.
func (l *LogStore) Read(ctx context.Context) (journal.Log, error) {
	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	if !ok {
		return journal.Log{}, nil
	}

	now := l.clock.Now()
	log, version, err := MigrateLog([]byte(raw), MigrationContext{
		Today: daykey.Key(now),
		Year:  now.Year(),
	})
	if err != nil {
		return journal.Log{}, nil
	}

	if version != CurrentLogVersion {
		if err := l.Write(ctx, log); err != nil {
			return nil, fmt.Errorf("read log: write back v%d: %w", version, err)
		}
	}
	return log, nil
}

// Write replaces the stored log with l in canonical form.
func (l *LogStore) Write(ctx context.Context, log journal.Log) error {
	data, err := EncodeLog(log)
	if err != nil {
		return err
	}
	if err := l.kv.Set(ctx, l.key, string(data)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Version reports the schema version currently stored, or -1 when absent or
// unrecognized.
func (l *LogStore) Version(ctx context.Context) (int, error) {
	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return -1, fmt.Errorf("log version: %w", err)
	}
	if !ok {
		return -1, nil
	}
	v, err := DetectLogVersion([]byte(raw))
	if err != nil {
		return -1, nil
	}
	return v, nil
}
