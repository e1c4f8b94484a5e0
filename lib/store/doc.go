// Package store defines the typed store interface domain services use to
// persist their data, and the environment stores are built from.
//
// A store binds one data kind to
//   - a storage scope (application, a workspace or a collection), which picks
//     the backend through the scope.Registry
//   - a table.Table, which names the storage unit and converts values to bytes
//   - a segkey.SegKey root, which keeps keys of unrelated kinds apart
//
// Every operation runs in exactly one transaction. Mutations publish one
// notify.Event per changed key once the transaction committed.
//
// Implementations:
//
//   - tstore: the generic implementation of IStore for any value type.
//     Available in the "github.com/ValentinKolb/sKV/lib/store/tstore" package.
//
//   - entities: the concrete stores of the application (workspaces, items,
//     environments, variables and per-field resource entries).
//     Available in the "github.com/ValentinKolb/sKV/lib/store/entities" package.
package store
