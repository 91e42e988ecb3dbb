// Package store provides SQLite-backed run history for the rewriting pass.
//
// Every recorded run keeps:
//   - Runs: module identity (input and output hash), counts, the pass
//     configuration and the tool versions
//   - Diagnostics: every reported diagnostic in report order
//   - Job records: the synthesized job descriptions and their type hashes
//
// # Ordering
//
// Runs are ordered by seq INTEGER (a logical clock assigned on write),
// never by started_at. Queries break ties by id COLLATE BINARY so results
// are identical across machines.
//
// # Replay
//
// A stored run can be compared with a fresh pass over the same input:
// CompareReplay reports whether the input still hashes the same and
// whether the rewrite reproduces the recorded output hash.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Hashes are computed by internal/ir using RFC 8785 canonical JSON and
// SHA-256 with domain separation.
package store
