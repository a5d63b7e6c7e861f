// Package store provides SQLite-backed durable storage for replicas.
//
// The store persists two things per document:
//   - Snapshots: schema version, clock, field states and the escrow ledger
//   - Operations: an append-only log of every operation the replica
//     accepted, keyed by content-addressed id
//
// # Critical Patterns
//
// Idempotent re-delivery:
//   - operations.id is the operation digest
//   - INSERT ... ON CONFLICT(id) DO NOTHING, so a duplicate is reported as
//     not inserted instead of failing
//
// Deterministic reads:
//   - Operation queries use ORDER BY time ASC, actor ASC COLLATE BINARY,
//     id ASC COLLATE BINARY
//   - Field and escrow rows are read in name/actor order
//
// Canonical payloads:
//   - Field states and operation payloads are stored as RFC 8785 canonical
//     JSON produced by internal/crdt, never by encoding/json directly
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
