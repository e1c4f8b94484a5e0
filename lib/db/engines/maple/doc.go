// Package maple implements an in-memory db.Backend on top of a copy-on-write
// btree (github.com/google/btree), with an optional snapshot file.
//
// The package focuses on:
//   - Readers that never wait: a read transaction just holds the published tree
//   - Optimistic writers: a write transaction works on a private clone and is
//     validated at commit time
//   - Simple durability: a checksummed snapshot file written atomically at
//     Close, or after every commit when SyncOnCommit is set
//
// Key Components:
//
//   - mapleImpl: owns the published tree behind an atomic pointer. The tree is
//     never modified after publication. A commit clones the current tree,
//     applies the write set and swaps the pointer, so every reader keeps a
//     consistent snapshot for as long as it likes.
//
//   - txImpl: a read transaction only references the tree it started from. A
//     write transaction additionally keeps a private clone (so it reads its own
//     writes), a write set, the keys it read and the prefixes it scanned.
//
//   - Validation: at commit, if other transactions committed in the meantime,
//     every written key, recorded read and scanned range is compared between
//     the start tree and the current tree. Any difference fails the commit with
//     db.ErrConflict; the first committer wins. Disjoint writes never conflict.
//     Callers retry the whole unit of work with db.RetryOnConflict.
//
//   - Snapshot file: magic "MAPLESKV", a format version, the commit counter and
//     all items as little endian length prefixed records, followed by a CRC32.
//     A truncated or damaged file fails NewMapleDB with db.ErrCorruption. The
//     file is written to a temporary name and renamed into place.
//
// Thread-safety: the backend is safe for concurrent use. Each transaction must
// be used by a single goroutine.
package maple
