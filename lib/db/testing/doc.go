// Package testing provides the conformance suite and benchmarks every
// db.Backend implementation must pass.
//
// The package contains:
//   - testing: round trips, prefix scans, atomicity on explicit and deferred
//     rollback, snapshot isolation, closed and read-only transactions, writer
//     slot timeouts, concurrent read-modify-write and persistence across reopen
//   - benchmark: throughput of single and batched writes, reads, scans and a
//     mixed workload
//
// Tests that depend on a capability (e.g. persistence or a single writer slot)
// are skipped for backends that do not advertise the matching db.Feature.
//
// Example usage:
//
//	factory := func(dir string) (db.Backend, error) {
//		return NewMyBackend(filepath.Join(dir, "data.db"))
//	}
//
//	dbtesting.RunBackendTests(t, "MyBackend", factory)
//	dbtesting.RunBackendBenchmarks(b, "MyBackend", factory)
package testing
