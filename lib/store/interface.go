package store

import (
	"context"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/notify"
	"github.com/ValentinKolb/sKV/lib/scope"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Item is one stored value together with its id.
type Item[K ~string, V any] struct {
	ID    K
	Value V
}

// IStore is the typed interface of one data kind in one storage scope.
// Every method is a single transaction on the scope's backend. Errors are
// *db.Error values; test them with errors.Is against the db sentinels.
type IStore[K ~string, V any] interface {
	// Get returns the value stored under id. The boolean reports whether it exists.
	Get(ctx context.Context, id K) (value V, found bool, err error)
	// Has reports whether a value is stored under id.
	Has(ctx context.Context, id K) (found bool, err error)
	// Put inserts or replaces the value of id.
	Put(ctx context.Context, id K, value V) error
	// Remove deletes id and returns the previous value. Removing an absent id
	// is not an error and publishes no event.
	Remove(ctx context.Context, id K) (prev V, found bool, err error)
	// Update runs a read-modify-write of id in one transaction. fn receives
	// the current value (zero and false if absent) and returns the new value.
	// The whole unit is retried on conflicts; fn may therefore run more than once.
	Update(ctx context.Context, id K, fn func(current V, found bool) (V, error)) (V, error)
	// List returns all values in id order. A value that cannot be decoded
	// aborts the listing with db.ErrCorruption.
	List(ctx context.Context) ([]Item[K, V], error)
	// ListByPrefix returns the values whose id starts with partialID.
	ListByPrefix(ctx context.Context, partialID string) ([]Item[K, V], error)
	// BatchGet returns the values of all ids that exist.
	BatchGet(ctx context.Context, ids []K) (map[K]V, error)
	// BatchPut writes all items in one transaction: all or nothing.
	BatchPut(ctx context.Context, items []Item[K, V]) error
	// BatchRemove removes all ids in one transaction and returns how many existed.
	BatchRemove(ctx context.Context, ids []K) (removed int, err error)
	// GetDBInfo returns metadata about the backend of the store's scope.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo(ctx context.Context) (info db.Info, err error)
}

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// Env bundles what every store needs: the registry that owns the backends,
// the hub receiving change events and the retry budget of conflicting
// read-modify-write units.
type Env struct {
	Registry *scope.Registry
	Hub      *notify.Hub // may be nil: no events
	Retries  int         // 0 = db.DefaultRetries
}

// Publish sends events to the hub, if there is one.
func (e Env) Publish(events ...notify.Event) {
	if e.Hub != nil && len(events) > 0 {
		e.Hub.Publish(events...)
	}
}
