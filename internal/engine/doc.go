// Package engine reconciles the habit log across the device and the remote
// tracker.
//
// MODES:
//
// GuestLocal: the log lives only in the local store. Completions are capped
// at two per item per day; deletes remove one matching occurrence.
//
// AuthenticatedRemote: the remote tracker is the source of truth and holds at
// most one record per (dayKey, itemId). A second completion the remote
// rejects as a duplicate is kept in the local extras overlay instead, so the
// user still sees two. The visible log is Merge(remote, extras), and a copy
// of it is cached locally for offline reads.
//
// WRITE PATH:
//
//  1. Validate the event and claim its key in the InFlightGuard
//  2. Call the remote (authenticated only)
//  3. Rebuild the merged view, falling back to the cache if the refetch fails
//  4. Commit log, extras and CommitHooks in one store transaction
//
// Nothing local is written until the remote call returned and ctx is still
// live, so a canceled or failed operation leaves no partial state.
//
// ON TOP OF THE ENGINE:
//
//   - Journey pages through the log for infinite scroll and keeps the loaded
//     pages in a SnapshotCache (in-process or Redis)
//   - Tracker pairs every mutation with the points ledger and the per-day
//     done marks, and owns rollover, the decay preference and guest upload
package engine
