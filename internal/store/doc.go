// Package store provides SQLite-backed durable storage for the platform.
//
// The database holds:
//   - SMT leaves and the root log (SMTBackend, consumed by package smt)
//   - The global nullifier set
//   - The register operation log
//   - The sync scheduler task log
//
// # Critical Patterns
//
// Logical ordering: every table carries a seq INTEGER and every read orders
// by seq ASC, id ASC COLLATE BINARY. Timestamps are data, never ordering.
//
// Idempotent writes: inserts use ON CONFLICT DO NOTHING so replays of the
// same record are silently absorbed. InsertNullifier reports whether the row
// was new, which is how double-spends are detected.
//
// Atomic commits: an SMT commit writes its leaves and the new root in one
// transaction. InsertNullifiers and AppendOperations do the same for a
// batch, so one register operation lands whole or not at all.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The store never imports domain packages. Callers define the narrow
// interfaces they need and *Store satisfies them.
package store
