// Package store provides the SQLite-backed durable storage that every
// chronicle component writes through.
//
// Tables:
//   - counters: named sequence counters (event numbers)
//   - events: the append-only event log
//   - documents: current-state entity projections with concurrency and schema versions
//   - personal_data: personal-data records keyed by event id
//   - snapshots, snapshot_documents: point-in-time dumps of the documents table
//   - api_responses: cached outbound API responses keyed by request and event number
//
// # Critical Patterns
//
// Idempotent appends: events use ON CONFLICT(id) DO NOTHING, so inserting the
// same event twice leaves exactly one row.
//
// Deterministic ordering: event queries order by event_number ASC, never by
// wall-clock time alone.
//
// Single writer: the pool holds one connection. Every write is one statement
// or one transaction, so a cancelled context never exposes a partial record.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
