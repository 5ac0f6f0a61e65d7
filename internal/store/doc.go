// Package store provides SQLite-backed durable storage for the practice journal.
//
// The store is a small key-value table standing in for on-device storage.
// Typed stores in this package own well-known keys:
//   - LogStore: the canonical completion log (with legacy schema migration)
//   - the extras overlay: a LogStore under "<log key>:extras"
//   - Ledger: the running points total (string-encoded integer)
//   - Marks: per-day "done" counts and the last-reset-day marker
//   - SessionStore: auth session and user preferences
//
// Every typed store is bound to a KV. Binding the same stores to a Tx (via
// With) lets callers commit a log write and its points adjustment atomically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
