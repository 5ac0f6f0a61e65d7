package journal

import (
	"fmt"
	"regexp"
)

// DefaultCap is the number of completions of one item allowed on one day.
const DefaultCap = 2

var dayKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Event records one completion of an item on a calendar day.
type Event struct {
	DayKey string `json:"dayKey"`
	ItemID string `json:"itemId"`
}

// Key is the identity used for caps, dedup and in-flight guards.
type Key struct {
	DayKey string
	ItemID string
}

// Key returns the (dayKey, itemId) identity of the event.
func (e Event) Key() Key {
	return Key{DayKey: e.DayKey, ItemID: e.ItemID}
}

// String renders the key as "dayKey/itemId".
func (k Key) String() string {
	return k.DayKey + "/" + k.ItemID
}

// Validate checks that the event carries an ISO day key and a non-empty item id.
func (e Event) Validate() error {
	if !dayKeyPattern.MatchString(e.DayKey) {
		return fmt.Errorf("invalid day key %q: want YYYY-MM-DD", e.DayKey)
	}
	if e.ItemID == "" {
		return fmt.Errorf("event for %s has empty item id", e.DayKey)
	}
	return nil
}

// Log is an ordered collection of completion events.
type Log []Event

// Item is a trackable practice supplied by the catalog.
type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
	Active bool   `json:"active"`
}

// Page is one slice of a log plus pagination state.
type Page struct {
	Items   Log  `json:"items"`
	HasMore bool `json:"hasMore"`
}

// RemotePage is what a remote page fetch yields after flattening.
type RemotePage struct {
	Items        Log
	TotalPages   int
	TotalResults int
}
