package db

import (
	"context"
	"iter"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplBolt   Implementation = "bolt"
	ImplSQLite Implementation = "sqlite"
)

// Feature represents backend capabilities as bit flags
type Feature uint64

const (
	FeaturePersistent       Feature = 1 << iota // Data survives a process restart
	FeatureSnapshotReads                        // Read transactions see a snapshot as of acquisition
	FeatureOptimistic                           // Write transactions validate at commit and may fail with Conflict
	FeatureSingleWriter                         // At most one write transaction is active at a time
	FeatureConcurrentReaders                    // Readers never block on writers
	FeatureMultiProcess                         // The container file may be shared with other processes
)

func (f Feature) String() string {
	switch f {
	case FeaturePersistent:
		return "Persistent"
	case FeatureSnapshotReads:
		return "SnapshotReads"
	case FeatureOptimistic:
		return "Optimistic"
	case FeatureSingleWriter:
		return "SingleWriter"
	case FeatureConcurrentReaders:
		return "ConcurrentReaders"
	case FeatureMultiProcess:
		return "MultiProcess"
	default:
		return "Unknown"
	}
}

// Features expands a bit set into its single flags.
func (f Feature) Features() []Feature {
	var out []Feature
	for bit := FeaturePersistent; bit <= FeatureMultiProcess; bit <<= 1 {
		if f&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

// Has reports whether all flags in other are set in f.
func (f Feature) Has(other Feature) bool {
	return f&other == other
}

// Info describes a backend instance.
// Note: for most implementations SizeBytes is an estimate.
type Info struct {
	SizeBytes         int            `json:"size_bytes" yaml:"size_bytes"`
	DbType            Implementation `json:"db_type" yaml:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features" yaml:"supported_features"`
	Tables            []string       `json:"tables" yaml:"tables"`
	Path              string         `json:"path,omitempty" yaml:"path,omitempty"`
	Metadata          interface{}    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// KV is a single raw entry returned by a prefix scan.
type KV struct {
	Key   []byte
	Value []byte
}

// --------------------------------------------------------------------------
// Backend Interface
// --------------------------------------------------------------------------

// Backend is a transactional, ordered byte-key/byte-value store partitioned
// into named tables. Every implementation must pass the conformance suite in
// lib/db/testing.
type Backend interface {

	// BeginRead starts a read-only transaction that observes a consistent
	// snapshot as of this call. It never waits for writers.
	BeginRead(ctx context.Context) (tx Tx, err error)

	// BeginWrite starts a read-write transaction. Implementations with a single
	// writer slot wait until the slot is free or ctx is done; in the latter
	// case an Unavailable error is returned.
	BeginWrite(ctx context.Context) (tx Tx, err error)

	// Info returns information about the backend.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	Info() (info Info)

	// Close releases the backend. Transactions that are still open after Close
	// returns fail with TxClosed or Unavailable.
	Close() (err error)
}

// Tx is a single transaction. A Tx is owned by exactly one goroutine and must
// end with Commit or Rollback; Rollback after Commit is a no-op, so
// `defer tx.Rollback()` is always safe.
//
// Keys and values passed in are not retained after the call returns and
// slices returned are owned by the caller.
type Tx interface {

	// Get returns the value stored under key in table. A missing table is
	// treated like a missing key.
	Get(table string, key []byte) (value []byte, found bool, err error)

	// Put inserts or replaces the value for key in table, creating the table
	// if needed.
	Put(table string, key, value []byte) (err error)

	// Remove deletes key from table and returns the previous value.
	Remove(table string, key []byte) (prev []byte, found bool, err error)

	// ScanPrefix lazily iterates over all entries of table whose key starts
	// with prefix, in ascending byte order. Stopping the iteration early
	// releases all resources held by the scan.
	ScanPrefix(table string, prefix []byte) iter.Seq2[KV, error]

	// Writable reports whether this is a write transaction.
	Writable() bool

	// Commit makes all writes visible atomically. On a read transaction it
	// just releases the snapshot.
	Commit() (err error)

	// Rollback discards all writes. It is idempotent and a no-op after Commit.
	Rollback() (err error)
}
