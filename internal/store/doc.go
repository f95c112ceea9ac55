// Package store provides SQLite-backed durable storage for invariant runs.
//
// The store is an append-only log of:
//   - Runs: one batch evaluation, identified by its run ID
//   - Trials: the contexts a run checked, with their context digests
//   - Verdicts: one row per invariant per trial, FAIL rows carrying the
//     canonical JSON export of the failing context
//
// # Ordering
//
// Verdicts are keyed by seq, the runner's logical clock. Every query orders
// by seq, never by wall time, so reports read back in the order they were
// produced. A new run resumes the clock from LastSeq.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
