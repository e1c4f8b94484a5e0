// Package db defines the transactional backend contract shared by all storage
// engines, the error model and small helpers built on top of it.
//
// The package focuses on:
//   - A unified interface for ordered, table partitioned byte storage
//   - Transactions with snapshot reads and atomic commits
//   - A single error type with codes that callers match with errors.Is
//   - Feature discovery and standardized metadata reporting
//
// Key Components:
//
//   - Backend Interface: BeginRead, BeginWrite, Info and Close. Readers never
//     block on writers; BeginWrite honours its context while waiting for the
//     writer slot and fails with Unavailable instead of deadlocking.
//
//   - Tx Interface: Get, Put, Remove, ScanPrefix, Commit and Rollback.
//     Rollback is idempotent and a no-op after Commit, so
//
//     tx, err := b.BeginWrite(ctx)
//     if err != nil { return err }
//     defer tx.Rollback()
//
//     guarantees that an abandoned transaction has no effect.
//
//   - Helpers: View and Update run a function inside a transaction and always
//     release it (also on panic). RetryOnConflict repeats a whole unit of work
//     on Conflict or Unavailable.
//
//   - Error: every failure is an *Error carrying an ErrCode. Conflict and
//     Unavailable are retryable (see IsRetryable), Corruption means stored
//     bytes could not be decoded, Io is fatal for the operation.
//
//   - Feature Flags and Info: engines advertise capabilities (persistence,
//     optimistic commits, single writer) and report size and tables.
//
// Implementations live in lib/db/engines (maple, bolt, sqlite) and must pass
// the conformance suite in lib/db/testing.
package db
