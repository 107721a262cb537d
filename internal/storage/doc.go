// Package storage implements account.Store on several backends.
//
// Drivers:
//   - "memory": process-local map, the default (tests, dry runs)
//   - "file": JSON snapshot plus an append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL through a pgx connection pool
//   - "valkey": Valkey/Redis, one JSON document per account
//
// Every driver stores durations as float seconds so rows stay readable by
// external tooling.
package storage
