package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/sadhana/internal/journal"
)

// CatalogStore keeps the last known item catalog so the tracker can run
// offline and in guest mode.
type CatalogStore struct {
	kv KV
}

// NewCatalogStore binds the catalog key to kv.
func NewCatalogStore(kv KV) *CatalogStore {
	return &CatalogStore{kv: kv}
}

// Read returns the stored items. ok is false when nothing was stored yet.
// An unparsable value reads as absent.
func (c *CatalogStore) Read(ctx context.Context) (items []journal.Item, ok bool, err error) {
	raw, ok, err := c.kv.Get(ctx, CatalogKey)
	if err != nil {
		return nil, false, fmt.Errorf("read catalog: %w", err)
	}
	if !ok || raw == "" {
		return nil, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, false, nil
	}
	return items, true, nil
}

// Write replaces the stored items.
func (c *CatalogStore) Write(ctx context.Context, items []journal.Item) error {
	if items == nil {
		items = []journal.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := c.kv.Set(ctx, CatalogKey, string(data)); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}
