package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Ledger is the running points total, stored as a string-encoded integer.
//
// The total is maintained incrementally. Callers pair every log mutation with
// Increment or Decrement, ideally inside the same Update transaction.
type Ledger struct {
	kv      KV
	key     string
	initial int
}

// NewLedger binds a ledger to key. initial is reported while the key is
// absent or unparsable.
func NewLedger(kv KV, key string, initial int) *Ledger {
	if initial < 0 {
		initial = 0
	}
	return &Ledger{kv: kv, key: key, initial: initial}
}

// With returns a copy of the ledger bound to kv.
func (l *Ledger) With(kv KV) *Ledger {
	return &Ledger{kv: kv, key: l.key, initial: l.initial}
}

// Total returns the current total.
func (l *Ledger) Total(ctx context.Context) (int, error) {
	raw, ok, err := l.kv.Get(ctx, l.key)
	if err != nil {
		return 0, fmt.Errorf("points total: %w", err)
	}
	if !ok {
		return l.initial, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return l.initial, nil
	}
	return n, nil
}

// Increment adds amount and persists the new total.
func (l *Ledger) Increment(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("increment points: negative amount %d", amount)
	}
	cur, err := l.Total(ctx)
	if err != nil {
		return 0, err
	}
	return l.Set(ctx, cur+amount)
}

// Decrement subtracts amount, floored at zero, and persists the new total.
func (l *Ledger) Decrement(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("decrement points: negative amount %d", amount)
	}
	cur, err := l.Total(ctx)
	if err != nil {
		return 0, err
	}
	return l.Set(ctx, max(0, cur-amount))
}

// Set overwrites the total. Negative values are stored as zero.
func (l *Ledger) Set(ctx context.Context, total int) (int, error) {
	total = max(0, total)
	if err := l.kv.Set(ctx, l.key, strconv.Itoa(total)); err != nil {
		return 0, fmt.Errorf("set points: %w", err)
	}
	return total, nil
}
