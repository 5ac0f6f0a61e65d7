package journal

import "sort"

// Sorted returns a copy ordered by descending day key. The sort is stable, so
// events sharing a day keep their arrival order.
func Sorted(l Log) Log {
	out := clone(l)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DayKey > out[j].DayKey
	})
	return out
}

// Count returns how many times the pair occurs in the log.
func Count(l Log, k Key) int {
	n := 0
	for _, e := range l {
		if e.Key() == k {
			n++
		}
	}
	return n
}

// Contains reports whether the pair occurs at least once.
func Contains(l Log, k Key) bool {
	for _, e := range l {
		if e.Key() == k {
			return true
		}
	}
	return false
}

// AddWithCap appends ev and then drops occurrences of any pair beyond limit.
// Earlier occurrences are kept, so appending to a pair already at its cap is a
// no-op. A cap below one is treated as one.
func AddWithCap(l Log, ev Event, limit int) Log {
	if limit < 1 {
		limit = 1
	}
	appended := append(clone(l), ev)

	seen := make(map[Key]int, len(appended))
	out := make(Log, 0, len(appended))
	for _, e := range appended {
		k := e.Key()
		if seen[k] >= limit {
			continue
		}
		seen[k]++
		out = append(out, e)
	}
	return out
}

// RemoveOne drops the first occurrence of the pair and leaves any further
// occurrences in place. The second return value reports whether a match was
// found.
func RemoveOne(l Log, k Key) (Log, bool) {
	out := make(Log, 0, len(l))
	removed := false
	for _, e := range l {
		if !removed && e.Key() == k {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// Dedupe keeps the first occurrence of every pair.
func Dedupe(l Log) Log {
	seen := make(map[Key]struct{}, len(l))
	out := make(Log, 0, len(l))
	for _, e := range l {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Overflow is the complement of Dedupe: every occurrence after the first of
// each pair, in order.
func Overflow(l Log) Log {
	seen := make(map[Key]struct{}, len(l))
	var out Log
	for _, e := range l {
		k := e.Key()
		if _, ok := seen[k]; ok {
			out = append(out, e)
			continue
		}
		seen[k] = struct{}{}
	}
	return out
}

// Merge combines a remote log with the local extras overlay. The remote holds
// at most one first-class record per pair and the overlay at most one overflow
// record, so each side is deduplicated on its own before the union. A pair
// present on both sides therefore appears twice.
func Merge(remote, extras Log) Log {
	out := make(Log, 0, len(remote)+len(extras))
	out = append(out, Dedupe(remote)...)
	out = append(out, Dedupe(extras)...)
	return Sorted(out)
}

// Slice returns the 1-based page of size pageSize and whether more events
// follow it.
func Slice(l Log, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	if start >= len(l) {
		return Page{Items: Log{}, HasMore: false}
	}
	end := start + pageSize
	if end > len(l) {
		end = len(l)
	}
	return Page{Items: clone(l[start:end]), HasMore: len(l) > end}
}

// ForDay returns the events recorded on dayKey, in log order.
func ForDay(l Log, dayKey string) Log {
	out := Log{}
	for _, e := range l {
		if e.DayKey == dayKey {
			out = append(out, e)
		}
	}
	return out
}

// Points sums the point value of every event whose item is known.
func Points(l Log, items map[string]Item) int {
	total := 0
	for _, e := range l {
		if it, ok := items[e.ItemID]; ok && it.Points > 0 {
			total += it.Points
		}
	}
	return total
}

func clone(l Log) Log {
	out := make(Log, len(l))
	copy(out, l)
	return out
}
