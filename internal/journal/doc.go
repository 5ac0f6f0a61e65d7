// Package journal defines the completion log model shared by every layer.
//
// A completion event is identified by its (dayKey, itemId) pair. A Log is an
// ordered slice of events, presented newest day first; events on the same day
// keep arrival order. All functions in this package are pure: they never
// mutate their inputs and always return fresh slices.
//
// # Caps
//
// The same pair may legitimately appear more than once in a log (a user can
// complete a practice twice in one day). AddWithCap bounds the occurrences of
// each pair; when a cap is exceeded the earliest-inserted occurrences win.
package journal
