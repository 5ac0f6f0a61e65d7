package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/sadhana/internal/daykey"
)

// Marks tracks how many times each item was marked done per day, plus the
// last-reset-day marker used for day rollover.
//
// Stored shape: {"2024-02-05": {"yoga": 2}}. The legacy {"yoga": true} shape
// is read as today's marks.
type Marks struct {
	kv       KV
	key      string
	resetKey string
	clock    daykey.Clock
}

// NewMarks binds done marks to the default keys.
func NewMarks(kv KV, clock daykey.Clock) *Marks {
	if clock == nil {
		clock = daykey.SystemClock{}
	}
	return &Marks{kv: kv, key: DoneMarksKey, resetKey: LastResetKey, clock: clock}
}

// With returns a copy bound to kv.
func (m *Marks) With(kv KV) *Marks {
	return &Marks{kv: kv, key: m.key, resetKey: m.resetKey, clock: m.clock}
}

// Day returns the item counts recorded for dayKey.
func (m *Marks) Day(ctx context.Context, dayKey string) (map[string]int, error) {
	all, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(all[dayKey]))
	for id, n := range all[dayKey] {
		out[id] = n
	}
	return out, nil
}

// Increment bumps the count for (dayKey, itemID) unless it already reached
// limit. It returns the resulting count and whether it changed.
func (m *Marks) Increment(ctx context.Context, dayKey, itemID string, limit int) (int, bool, error) {
	all, err := m.read(ctx)
	if err != nil {
		return 0, false, err
	}
	cur := all[dayKey][itemID]
	if cur >= limit {
		return cur, false, nil
	}
	if all[dayKey] == nil {
		all[dayKey] = map[string]int{}
	}
	all[dayKey][itemID] = cur + 1
	if err := m.write(ctx, all); err != nil {
		return 0, false, err
	}
	return cur + 1, true, nil
}

// Decrement lowers the count for (dayKey, itemID), removing the mark when it
// reaches zero. It returns the remaining count.
func (m *Marks) Decrement(ctx context.Context, dayKey, itemID string) (int, error) {
	all, err := m.read(ctx)
	if err != nil {
		return 0, err
	}
	cur := all[dayKey][itemID]
	if cur == 0 {
		return 0, nil
	}
	if cur == 1 {
		delete(all[dayKey], itemID)
		if len(all[dayKey]) == 0 {
			delete(all, dayKey)
		}
	} else {
		all[dayKey][itemID] = cur - 1
	}
	if err := m.write(ctx, all); err != nil {
		return 0, err
	}
	return cur - 1, nil
}

// Rollover clears every mark when the calendar day changed since the last
// reset and records today, both in one transaction. It reports whether a
// reset happened.
func (m *Marks) Rollover(ctx context.Context) (bool, error) {
	if s, ok := m.kv.(*Store); ok {
		var reset bool
		err := s.Update(ctx, func(tx *Tx) error {
			var err error
			reset, err = m.With(tx).Rollover(ctx)
			return err
		})
		return reset, err
	}

	today := daykey.Today(m.clock)
	last, ok, err := m.kv.Get(ctx, m.resetKey)
	if err != nil {
		return false, fmt.Errorf("rollover: %w", err)
	}
	if ok && last == today {
		return false, nil
	}
	if err := m.kv.Set(ctx, m.resetKey, today); err != nil {
		return false, fmt.Errorf("rollover: %w", err)
	}
	if err := m.kv.Set(ctx, m.key, "{}"); err != nil {
		return false, fmt.Errorf("rollover: %w", err)
	}
	return true, nil
}

// LastReset returns the stored last-reset day key, if any.
func (m *Marks) LastReset(ctx context.Context) (string, bool, error) {
	v, ok, err := m.kv.Get(ctx, m.resetKey)
	if err != nil {
		return "", false, fmt.Errorf("last reset: %w", err)
	}
	return v, ok, nil
}

func (m *Marks) read(ctx context.Context) (completionMap, error) {
	raw, ok, err := m.kv.Get(ctx, m.key)
	if err != nil {
		return nil, fmt.Errorf("read marks: %w", err)
	}
	if !ok {
		return completionMap{}, nil
	}
	cm, err := decodeCompletionMap([]byte(raw), MigrationContext{Today: daykey.Today(m.clock)})
	if err != nil {
		return completionMap{}, nil
	}
	return cm, nil
}

func (m *Marks) write(ctx context.Context, cm completionMap) error {
	data, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("write marks: %w", err)
	}
	if err := m.kv.Set(ctx, m.key, string(data)); err != nil {
		return fmt.Errorf("write marks: %w", err)
	}
	return nil
}
