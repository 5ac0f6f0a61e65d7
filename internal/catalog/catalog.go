// Package catalog turns the remote item list into the lookup the tracker
// consumes: markup-free names, active items only, indexed by id.
package catalog

import (
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/roach88/sadhana/internal/journal"
)

var strict = bluemonday.StrictPolicy()

// Catalog is an immutable, id-indexed set of active items. Point values of
// deactivated items are kept so completions logged before the change can
// still be valued.
type Catalog struct {
	items []journal.Item
	byID  map[string]journal.Item
	known map[string]journal.Item
}

// Normalize cleans one item: the name loses any markup, surrounding space is
// trimmed and negative points become zero.
func Normalize(it journal.Item) journal.Item {
	it.ID = strings.TrimSpace(it.ID)
	it.Name = strings.TrimSpace(html.UnescapeString(strict.Sanitize(it.Name)))
	if it.Points < 0 {
		it.Points = 0
	}
	return it
}

// New keeps the active items with an id, normalized. The first occurrence of
// an id wins.
func New(items []journal.Item) *Catalog {
	c := &Catalog{
		byID:  make(map[string]journal.Item, len(items)),
		known: make(map[string]journal.Item, len(items)),
	}
	for _, raw := range items {
		it := Normalize(raw)
		if it.ID == "" {
			continue
		}
		if _, dup := c.known[it.ID]; dup {
			continue
		}
		c.known[it.ID] = it
		if !it.Active {
			continue
		}
		c.byID[it.ID] = it
		c.items = append(c.items, it)
	}
	return c
}

// Items returns the active items in catalog order.
func (c *Catalog) Items() []journal.Item {
	out := make([]journal.Item, len(c.items))
	copy(out, c.items)
	return out
}

// Lookup finds an active item by id.
func (c *Catalog) Lookup(id string) (journal.Item, bool) {
	it, ok := c.byID[id]
	return it, ok
}

// Points returns the point value of id, active or not, or 0 if the catalog
// never listed it.
func (c *Catalog) Points(id string) int {
	return c.known[id].Points
}

// Index exposes every listed item, inactive ones included, for
// journal.Points.
func (c *Catalog) Index() map[string]journal.Item {
	out := make(map[string]journal.Item, len(c.known))
	for k, v := range c.known {
		out[k] = v
	}
	return out
}

// Len reports the number of active items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// IDs returns the active item ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
