package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
)

// The tracker has shipped two day-bucket shapes:
//
//	{"date": "...", "optedSadanas": ["id", ...]}
//	{"date": "...", "optedSadanas": [{"sadana": "id"|{...}, "dateTime": "..."}, ...]}
//
// plus the generic {"optedItems": [{"itemId", "dayKey"}]}. All of them are
// normalized here so nothing past the gateway sees wire drift.

type trackerPage struct {
	Results      []dayBucket `json:"results"`
	Data         []dayBucket `json:"data"`
	TotalPages   int         `json:"totalPages"`
	TotalResults int         `json:"totalResults"`
}

type dayBucket struct {
	Date         string      `json:"date"`
	DayKey       string      `json:"dayKey"`
	OptedSadanas []optedItem `json:"optedSadanas"`
	OptedItems   []optedItem `json:"optedItems"`
}

// optedItem is either a bare id string or an object naming the item and
// optionally its own day. Any other element decodes empty and is skipped.
type optedItem struct {
	ItemID string
	Day    string
}

func (o *optedItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &o.ItemID)
	case '{':
	default:
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("opted item: %w", err)
	}
	o.ItemID = refString(obj, "itemId", "sadanaId", "sadana", "id", "_id")
	o.Day = refString(obj, "dayKey", "dateTime", "date")
	return nil
}

// refString returns the first field holding a string, or an object whose
// id/_id is a string.
func refString(obj map[string]json.RawMessage, fields ...string) string {
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var ref struct {
			ID    string `json:"id"`
			Mongo string `json:"_id"`
		}
		if json.Unmarshal(raw, &ref) == nil {
			if ref.ID != "" {
				return ref.ID
			}
			if ref.Mongo != "" {
				return ref.Mongo
			}
		}
	}
	return ""
}

// decodeTrackerPage flattens a tracker page into a sorted event log.
// Entries without a usable day or item id are skipped. Duplicates are kept.
func decodeTrackerPage(body []byte) (journal.RemotePage, error) {
	var p trackerPage
	if err := json.Unmarshal(body, &p); err != nil {
		return journal.RemotePage{}, fmt.Errorf("decode tracker page: %w", err)
	}

	buckets := p.Results
	if buckets == nil {
		buckets = p.Data
	}

	out := journal.Log{}
	for _, b := range buckets {
		bucketDay := b.DayKey
		if bucketDay == "" {
			bucketDay = b.Date
		}
		items := b.OptedSadanas
		if items == nil {
			items = b.OptedItems
		}
		for _, it := range items {
			day := it.Day
			if day == "" {
				day = bucketDay
			}
			ev := journal.Event{DayKey: daykey.TruncateToDay(day), ItemID: it.ItemID}
			if ev.Validate() != nil {
				continue
			}
			out = append(out, ev)
		}
	}

	totalPages := p.TotalPages
	if totalPages < 1 {
		totalPages = 1
	}
	return journal.RemotePage{
		Items:        journal.Sorted(out),
		TotalPages:   totalPages,
		TotalResults: p.TotalResults,
	}, nil
}

// eventBody is the POST/DELETE payload.
type eventBody struct {
	DayKey string `json:"dayKey"`
	ItemID string `json:"itemId"`
}

type catalogEntry struct {
	ID       string `json:"id"`
	Mongo    string `json:"_id"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Points   int    `json:"points"`
	Active   *bool  `json:"active"`
	IsActive *bool  `json:"isActive"`
}

// decodeCatalog reads {"data": [...]} or a bare array. Entries that carry no
// active flag are treated as active.
func decodeCatalog(body []byte) ([]journal.Item, error) {
	var entries []catalogEntry
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
	} else {
		var wrapped struct {
			Data []catalogEntry `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		entries = wrapped.Data
	}

	items := make([]journal.Item, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = e.Mongo
		}
		name := e.Name
		if name == "" {
			name = e.Title
		}
		active := true
		switch {
		case e.Active != nil:
			active = *e.Active
		case e.IsActive != nil:
			active = *e.IsActive
		}
		items = append(items, journal.Item{ID: id, Name: name, Points: e.Points, Active: active})
	}
	return items, nil
}

// Profile is the subset of the remote user record the tracker consumes.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	SadhanaPoints *int   `json:"sadhanaPoints"`
	DecayPoints   *int   `json:"decayPoints"`
}

func decodeProfile(body []byte) (Profile, error) {
	var wrapped struct {
		Data *Profile `json:"data"`
		User *Profile `json:"user"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	switch {
	case wrapped.Data != nil:
		return *wrapped.Data, nil
	case wrapped.User != nil:
		return *wrapped.User, nil
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

// errorBody is the JSON failure envelope.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func decodeErrorBody(body []byte) errorBody {
	var eb errorBody
	if json.Unmarshal(body, &eb) != nil {
		return errorBody{}
	}
	if eb.Message == "" {
		eb.Message = eb.Error
	}
	return eb
}
