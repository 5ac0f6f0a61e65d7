package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/sadhana/internal/daykey"
	"github.com/roach88/sadhana/internal/journal"
)

// On-device log schema versions. Anything below CurrentLogVersion is migrated
// forward one step at a time.
//
//	0 - completion map: {itemId: bool} for today, or {dayKey: {itemId: count|bool}}
//	1 - day buckets: [{dayLabel, date?, items: [{id, title, points, itemId?}]}] or {days: [...]}
//	2 - flat entries: [{dateTime|date|dayKey, sadanaId|sadana|itemId}]
//	3 - canonical envelope: {schemaVersion: 3, events: [{dayKey, itemId}]}
const (
	LogVersionCompletionMap = 0
	LogVersionDayBuckets    = 1
	LogVersionFlat          = 2
	CurrentLogVersion       = 3
)

// MigrationContext supplies the calendar facts legacy shapes left implicit.
type MigrationContext struct {
	Today string // day key assumed for "today only" maps
	Year  int    // year assumed for "5th Feb" labels
}

type envelope struct {
	SchemaVersion int         `json:"schemaVersion"`
	Events        journal.Log `json:"events"`
}

type legacyItem struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Points int    `json:"points,omitempty"`
	ItemID string `json:"itemId,omitempty"`
}

type legacyDay struct {
	DayLabel string       `json:"dayLabel"`
	Date     string       `json:"date,omitempty"`
	Items    []legacyItem `json:"items"`
}

type flatEntry struct {
	DateTime string
	ItemID   string
}

// completionMap is v0 normalized: day key -> item id -> count.
type completionMap map[string]map[string]int

// EncodeLog serializes a log in the canonical envelope.
func EncodeLog(l journal.Log) ([]byte, error) {
	if l == nil {
		l = journal.Log{}
	}
	data, err := json.Marshal(envelope{SchemaVersion: CurrentLogVersion, Events: l})
	if err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}
	return data, nil
}

// MigrateLog decodes any recognized stored shape into a canonical log and
// reports the version it was found in. Migrating canonical data is a no-op.
// Unrecognized or corrupt data yields an error; callers treat it as empty.
func MigrateLog(raw []byte, mc MigrationContext) (journal.Log, int, error) {
	version, err := DetectLogVersion(raw)
	if err != nil {
		return nil, 0, err
	}

	switch version {
	case CurrentLogVersion:
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, version, fmt.Errorf("decode v%d: %w", version, err)
		}
		if env.Events == nil {
			env.Events = journal.Log{}
		}
		return env.Events, version, nil
	case LogVersionFlat:
		entries, err := decodeFlat(raw)
		if err != nil {
			return nil, version, err
		}
		return migrateV2(entries), version, nil
	case LogVersionDayBuckets:
		days, err := decodeDays(raw)
		if err != nil {
			return nil, version, err
		}
		return migrateV2(migrateV1(days, mc)), version, nil
	default:
		cm, err := decodeCompletionMap(raw, mc)
		if err != nil {
			return nil, version, err
		}
		return migrateV2(migrateV1(migrateV0(cm), mc)), version, nil
	}
}

// DetectLogVersion inspects the top-level JSON shape.
func DetectLogVersion(raw []byte) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, fmt.Errorf("detect log version: empty payload")
	}

	switch trimmed[0] {
	case '[':
		var elems []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return 0, fmt.Errorf("detect log version: %w", err)
		}
		for _, e := range elems {
			_, hasItems := e["items"]
			_, hasLabel := e["dayLabel"]
			if hasItems || hasLabel {
				return LogVersionDayBuckets, nil
			}
		}
		return LogVersionFlat, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return 0, fmt.Errorf("detect log version: %w", err)
		}
		if v, ok := obj["schemaVersion"]; ok {
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				return 0, fmt.Errorf("detect log version: bad schemaVersion: %w", err)
			}
			if n != CurrentLogVersion {
				return 0, fmt.Errorf("detect log version: unsupported schemaVersion %d", n)
			}
			return n, nil
		}
		if _, ok := obj["days"]; ok {
			return LogVersionDayBuckets, nil
		}
		return LogVersionCompletionMap, nil
	default:
		return 0, fmt.Errorf("detect log version: unexpected JSON %q", string(trimmed[:1]))
	}
}

// migrateV0 expands a completion map into day buckets, newest day first.
// Items within a day are ordered by id so the result is deterministic. Each
// count is capped at journal.DefaultCap.
func migrateV0(cm completionMap) []legacyDay {
	days := make([]string, 0, len(cm))
	for d := range cm {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	out := make([]legacyDay, 0, len(days))
	for _, d := range days {
		ids := make([]string, 0, len(cm[d]))
		for id := range cm[d] {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		label, _ := daykey.DisplayLabel(d)
		day := legacyDay{DayLabel: label, Date: d}
		for _, id := range ids {
			n := min(cm[d][id], journal.DefaultCap)
			for i := 0; i < n; i++ {
				day.Items = append(day.Items, legacyItem{ID: id, ItemID: id})
			}
		}
		if len(day.Items) > 0 {
			out = append(out, day)
		}
	}
	return out
}

// migrateV1 flattens day buckets. A bucket's day comes from its date when
// present, otherwise from its label in the assumed year; buckets with neither
// are dropped.
func migrateV1(days []legacyDay, mc MigrationContext) []flatEntry {
	var out []flatEntry
	for _, d := range days {
		key := dayOf(d, mc)
		if key == "" {
			continue
		}
		for _, it := range d.Items {
			id := it.ItemID
			if id == "" {
				id = it.ID
			}
			if id == "" {
				continue
			}
			out = append(out, flatEntry{DateTime: key, ItemID: id})
		}
	}
	return out
}

// migrateV2 truncates date-times to day keys and drops malformed entries.
func migrateV2(entries []flatEntry) journal.Log {
	out := journal.Log{}
	for _, e := range entries {
		ev := journal.Event{DayKey: daykey.TruncateToDay(e.DateTime), ItemID: e.ItemID}
		if ev.Validate() != nil {
			continue
		}
		out = append(out, ev)
	}
	return journal.Sorted(out)
}

func dayOf(d legacyDay, mc MigrationContext) string {
	if d.Date != "" {
		return daykey.TruncateToDay(d.Date)
	}
	if key, err := daykey.ParseLegacyLabel(d.DayLabel, mc.Year); err == nil {
		return key
	}
	if k := daykey.TruncateToDay(d.DayLabel); len(k) == len(daykey.Layout) {
		if _, err := daykey.Parse(k); err == nil {
			return k
		}
	}
	return ""
}

func decodeDays(raw []byte) ([]legacyDay, error) {
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '{' {
		var wrapped struct {
			Days []legacyDay `json:"days"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode v1: %w", err)
		}
		return wrapped.Days, nil
	}
	var days []legacyDay
	if err := json.Unmarshal(trimmed, &days); err != nil {
		return nil, fmt.Errorf("decode v1: %w", err)
	}
	return days, nil
}

func decodeFlat(raw []byte) ([]flatEntry, error) {
	var elems []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode v2: %w", err)
	}
	out := make([]flatEntry, 0, len(elems))
	for _, e := range elems {
		out = append(out, flatEntry{
			DateTime: firstString(e, "dayKey", "dateTime", "date"),
			ItemID:   firstString(e, "itemId", "sadanaId", "sadana"),
		})
	}
	return out, nil
}

// decodeCompletionMap accepts both v0 forms entry by entry: a boolean or
// numeric value marks an item done today, an object value holds one day's
// counts.
func decodeCompletionMap(raw []byte, mc MigrationContext) (completionMap, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode v0: %w", err)
	}

	cm := completionMap{}
	add := func(day, id string, n int) {
		if n <= 0 || id == "" {
			return
		}
		if cm[day] == nil {
			cm[day] = map[string]int{}
		}
		cm[day][id] += n
	}

	for k, v := range obj {
		var day map[string]json.RawMessage
		if err := json.Unmarshal(v, &day); err == nil {
			for id, raw := range day {
				add(k, id, countOf(raw))
			}
			continue
		}
		add(mc.Today, k, countOf(v))
	}
	return cm, nil
}

// maxLegacyCount bounds a decoded count before it is converted to int.
const maxLegacyCount = 1 << 16

func countOf(raw json.RawMessage) int {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		switch {
		case math.IsNaN(n) || n <= 0:
			return 0
		case n >= maxLegacyCount:
			return maxLegacyCount
		}
		return int(n)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && b {
		return 1
	}
	return 0
}

// firstString returns the first field that holds a non-empty string, or an
// object carrying a string id/_id.
func firstString(e map[string]json.RawMessage, fields ...string) string {
	for _, f := range fields {
		raw, ok := e[f]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var ref struct {
			ID    string `json:"id"`
			Mongo string `json:"_id"`
		}
		if err := json.Unmarshal(raw, &ref); err == nil {
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
