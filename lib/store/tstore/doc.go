// Package tstore is the generic implementation of store.IStore.
//
// A Store[K, V] keeps every value of its kind under the key <root>/<id> in
// one table of one scope. Each method runs one transaction:
//   - reads use db.View on the scope's backend
//   - writes use db.UpdateRetry, so conflicting units are retried as a whole,
//     and publish their events only after the commit succeeded
//
// Thread-safety: a Store is safe for concurrent use.
package tstore
