// Package bolt implements db.Backend on go.etcd.io/bbolt.
//
// Every table is a top level bucket, created on first write; reading a table
// that was never written behaves like reading a missing key. bbolt gives MVCC
// readers and a single writer. Waiting for the writer happens on a one slot
// channel before bbolt's own lock is touched, so BeginWrite can give up when
// its context is done and returns db.ErrUnavailable instead of blocking.
//
// Values returned by bbolt are only valid inside their transaction and are
// always copied. Prefix scans read batches of keys and re-seek between
// batches, so a write transaction may modify the bucket it is scanning.
//
// A file lock held by another process is reported as db.ErrUnavailable once
// Options.Timeout has passed.
package bolt
