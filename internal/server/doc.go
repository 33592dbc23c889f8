// Package server is the reference implementation of the remote store the
// sync engine polls against: SQLite-backed durable entity storage behind
// the JSON/HTTP routes internal/remote.HTTPClient consumes.
//
// Write semantics:
//   - Every accepted write increments the entity's version. Versions are
//     monotonic per entity and are the only thing clients use to resolve
//     merge ordering.
//   - Every write also advances the owning scope's change seq (a logical
//     clock, never wall time). The seq doubles as the delta cursor:
//     ChangesSince(scope, since) returns rows with seq > since, newest
//     cursor included in the response, monotonic per scope.
//   - Deletes keep a tombstone row so pollers learn about removals. A
//     tombstone id can be re-created; the version keeps increasing.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package server
