// Package storage keeps the reply audit log: one record per job that
// reached a terminal state (delivered, expired, dropped).
//
// Drivers:
//   - "file": append-only JSON Lines next to the configured path
//   - "sqlite": a reply_audit table (modernc.org/sqlite, no cgo)
package storage
