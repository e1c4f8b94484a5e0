package tstore

import (
	"context"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/notify"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/table"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// Store implements store.IStore for values of type V stored under
// <root>/<id> in one table of one scope.
type Store[K ~string, V any] struct {
	env   store.Env
	scope scope.Scope
	table table.Table[V]
	root  segkey.SegKey
}

// New creates a store. It does not touch the backend; the scope is resolved
// on every operation, so a closed scope is reopened transparently.
func New[K ~string, V any](env store.Env, s scope.Scope, t table.Table[V], root segkey.SegKey) *Store[K, V] {
	return &Store[K, V]{
		env:   env,
		scope: s,
		table: t,
		root:  root,
	}
}

// Scope returns the scope of the store.
func (s *Store[K, V]) Scope() scope.Scope { return s.scope }

// Table returns the table of the store.
func (s *Store[K, V]) Table() table.Table[V] { return s.table }

// Key returns the key of id.
func (s *Store[K, V]) Key(id K) segkey.SegKeyBuf {
	return s.root.Join(string(id))
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func checkID[K ~string](id K) error {
	if id == "" {
		return db.NewError(db.ErrCInvalidValue, "empty id")
	}
	return nil
}

func (s *Store[K, V]) backend(ctx context.Context) (db.Backend, error) {
	return s.env.Registry.Resolve(ctx, s.scope)
}

// view runs fn in a read transaction of the store's scope.
func (s *Store[K, V]) view(ctx context.Context, fn func(tx db.Tx) error) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return db.View(ctx, b, fn)
}

// update runs fn in a write transaction, retrying on conflicts, and publishes
// the events collected by the last (successful) attempt.
func (s *Store[K, V]) update(ctx context.Context, fn func(tx db.Tx, events *[]notify.Event) error) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}

	var events []notify.Event
	err = db.UpdateRetry(ctx, b, s.env.Retries, func(tx db.Tx) error {
		events = events[:0]
		return fn(tx, &events)
	})
	if err != nil {
		return err
	}
	s.env.Publish(events...)
	return nil
}

func (s *Store[K, V]) event(key segkey.SegKeyBuf, removed bool) notify.Event {
	return notify.Event{Scope: s.scope, Table: s.table.Name(), Key: key, Removed: removed}
}

// collect decodes a scan into items. Keys that are not <root>/<id> are
// skipped.
func (s *Store[K, V]) collect(tx db.Tx, prefix []byte) ([]store.Item[K, V], error) {
	var out []store.Item[K, V]
	for e, err := range s.table.ScanBytes(tx, prefix) {
		if err != nil {
			return nil, err
		}
		if e.Key.Len() != 2 {
			continue
		}
		out = append(out, store.Item[K, V]{ID: K(e.Key.Last()), Value: e.Value})
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store[K, V]) Get(ctx context.Context, id K) (value V, found bool, err error) {
	if err = checkID(id); err != nil {
		return value, false, err
	}
	err = s.view(ctx, func(tx db.Tx) error {
		value, found, err = s.table.Get(tx, s.Key(id))
		return err
	})
	return value, found, err
}

func (s *Store[K, V]) Has(ctx context.Context, id K) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	var found bool
	err := s.view(ctx, func(tx db.Tx) (err error) {
		_, found, err = tx.Get(s.table.Name(), s.Key(id).Bytes())
		return err
	})
	return found, err
}

func (s *Store[K, V]) Put(ctx context.Context, id K, value V) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.update(ctx, func(tx db.Tx, events *[]notify.Event) error {
		key := s.Key(id)
		if err := s.table.Put(tx, key, value); err != nil {
			return err
		}
		*events = append(*events, s.event(key, false))
		return nil
	})
}

// Remove deletes id and returns the previous value. A value that cannot be
// decoded is still removed; the error is then Corruption with found=true.
func (s *Store[K, V]) Remove(ctx context.Context, id K) (prev V, found bool, err error) {
	if err = checkID(id); err != nil {
		return prev, false, err
	}
	var decodeErr error
	err = s.update(ctx, func(tx db.Tx, events *[]notify.Event) error {
		key := s.Key(id)
		var rmErr error
		decodeErr = nil
		prev, found, rmErr = s.table.Remove(tx, key)
		if found {
			*events = append(*events, s.event(key, true))
		}
		if rmErr != nil && found {
			// commit the removal, report the value as corrupt afterwards
			decodeErr = rmErr
			return nil
		}
		return rmErr
	})
	if err != nil {
		return prev, found, err
	}
	if decodeErr != nil {
		log.Warningf("removed undecodable value %s from %s: %v", s.Key(id), s.scope, decodeErr)
		var zero V
		return zero, true, db.WrapError(db.ErrCCorruption, decodeErr, "remove %s", s.Key(id))
	}
	return prev, found, nil
}

func (s *Store[K, V]) Update(ctx context.Context, id K, fn func(current V, found bool) (V, error)) (V, error) {
	var next V
	if err := checkID(id); err != nil {
		return next, err
	}
	err := s.update(ctx, func(tx db.Tx, events *[]notify.Event) error {
		key := s.Key(id)
		current, found, err := s.table.Get(tx, key)
		if err != nil {
			return err
		}
		if next, err = fn(current, found); err != nil {
			return err
		}
		if err := s.table.Put(tx, key, next); err != nil {
			return err
		}
		*events = append(*events, s.event(key, false))
		return nil
	})
	return next, err
}

func (s *Store[K, V]) List(ctx context.Context) (items []store.Item[K, V], err error) {
	err = s.view(ctx, func(tx db.Tx) error {
		items, err = s.collect(tx, s.root.Buf().Prefix())
		return err
	})
	return items, err
}

func (s *Store[K, V]) ListByPrefix(ctx context.Context, partialID string) (items []store.Item[K, V], err error) {
	if partialID == "" {
		return s.List(ctx)
	}
	err = s.view(ctx, func(tx db.Tx) error {
		// escaping is byte wise, so the encoding of any id starting with
		// partialID starts with the encoding of partialID
		items, err = s.collect(tx, s.root.Join(partialID).Bytes())
		return err
	})
	return items, err
}

func (s *Store[K, V]) BatchGet(ctx context.Context, ids []K) (map[K]V, error) {
	out := make(map[K]V, len(ids))
	err := s.view(ctx, func(tx db.Tx) error {
		for _, id := range ids {
			if err := checkID(id); err != nil {
				return err
			}
			v, found, err := s.table.Get(tx, s.Key(id))
			if err != nil {
				return err
			}
			if found {
				out[id] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store[K, V]) BatchPut(ctx context.Context, items []store.Item[K, V]) error {
	if len(items) == 0 {
		return nil
	}
	return s.update(ctx, func(tx db.Tx, events *[]notify.Event) error {
		for _, it := range items {
			if err := checkID(it.ID); err != nil {
				return err
			}
			key := s.Key(it.ID)
			if err := s.table.Put(tx, key, it.Value); err != nil {
				return err
			}
			*events = append(*events, s.event(key, false))
		}
		return nil
	})
}

func (s *Store[K, V]) BatchRemove(ctx context.Context, ids []K) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int
	err := s.update(ctx, func(tx db.Tx, events *[]notify.Event) error {
		removed = 0
		for _, id := range ids {
			if err := checkID(id); err != nil {
				return err
			}
			key := s.Key(id)
			_, found, err := tx.Remove(s.table.Name(), key.Bytes())
			if err != nil {
				return err
			}
			if found {
				removed++
				*events = append(*events, s.event(key, true))
			}
		}
		return nil
	})
	return removed, err
}

func (s *Store[K, V]) GetDBInfo(ctx context.Context) (db.Info, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return db.Info{}, err
	}
	return b.Info(), nil
}

var _ store.IStore[string, []byte] = (*Store[string, []byte])(nil)
