// Package storage persists dispatch history: one record per run and one per
// dispatched, skipped or failed action.
//
// Drivers:
//   - file: append-only JSON Lines next to the configured path
//   - sqlite: a single SQLite database (modernc.org/sqlite, no cgo)
package storage
