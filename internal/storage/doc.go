// Package storage persists the activity ledger so past scheduler runs can be
// inspected after the process exits.
//
// Drivers:
//   - "file": JSON Lines, append-only
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
