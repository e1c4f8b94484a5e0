package entities

import (
	"context"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/notify"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/table"
	"github.com/fxamacker/cbor/v2"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// EntryID identifies a resource entry (request, folder, ...) of a collection.
type EntryID string

// Field names below entry/<id>.
const (
	FieldOrder    = "order"
	FieldExpanded = "expanded"
)

// EntryState is the local UI state of a resource entry. Every field is stored
// under its own key, entry/<id>/<field>; nil means the field was never set.
type EntryState struct {
	Order    *int64 `json:"order,omitempty" yaml:"order,omitempty"`
	Expanded *bool  `json:"expanded,omitempty" yaml:"expanded,omitempty"`
}

// EntryItem is one entry returned by List.
type EntryItem struct {
	ID    EntryID
	State EntryState
}

// IEntryStore is the interface of the per-field entry state store.
type IEntryStore interface {
	// Get returns the state of id. found is false if no field is set.
	Get(ctx context.Context, id EntryID) (state EntryState, found bool, err error)
	// SetOrder sets the order field of id.
	SetOrder(ctx context.Context, id EntryID, order int64) error
	// SetExpanded sets the expanded field of id.
	SetExpanded(ctx context.Context, id EntryID, expanded bool) error
	// Remove deletes all fields of id in one transaction and returns how many
	// existed.
	Remove(ctx context.Context, id EntryID) (int, error)
	// List returns the state of all entries in id order.
	List(ctx context.Context) ([]EntryItem, error)
}

// EntryStore implements IEntryStore for one collection.
type EntryStore struct {
	env   store.Env
	scope scope.Scope
}

func NewEntryStore(env store.Env, collection string) *EntryStore {
	return &EntryStore{env: env, scope: scope.Collection(collection)}
}

var (
	orderCodec    = table.CBOR[int64]()
	expandedCodec = table.CBOR[bool]()
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (s *EntryStore) backend(ctx context.Context) (db.Backend, error) {
	return s.env.Registry.Resolve(ctx, s.scope)
}

func entryKey(id EntryID) (segkey.SegKeyBuf, error) {
	if id == "" {
		return segkey.SegKeyBuf{}, db.NewError(db.ErrCInvalidValue, "empty entry id")
	}
	return EntryRoot.Join(string(id)), nil
}

// apply decodes one stored field into state and reports whether the field is
// known. Unknown fields are skipped and leave state untouched.
func apply(state *EntryState, key segkey.SegKeyBuf, raw cbor.RawMessage) (bool, error) {
	switch key.Last() {
	case FieldOrder:
		v, err := orderCodec.Decode(raw)
		if err != nil {
			return false, db.WrapError(db.ErrCCorruption, err, "entry field %s", key)
		}
		state.Order = &v
	case FieldExpanded:
		v, err := expandedCodec.Decode(raw)
		if err != nil {
			return false, db.WrapError(db.ErrCCorruption, err, "entry field %s", key)
		}
		state.Expanded = &v
	default:
		log.Debugf("skipping unknown entry field %s", key)
		return false, nil
	}
	return true, nil
}

func (s *EntryStore) setField(ctx context.Context, id EntryID, field string, raw []byte) error {
	base, err := entryKey(id)
	if err != nil {
		return err
	}
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	key := base.Join(field)
	err = db.UpdateRetry(ctx, b, s.env.Retries, func(tx db.Tx) error {
		return ResourceTable.Put(tx, key, raw)
	})
	if err != nil {
		return err
	}
	s.env.Publish(notify.Event{Scope: s.scope, Table: ResourceTable.Name(), Key: key})
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IEntryStore)
// --------------------------------------------------------------------------

func (s *EntryStore) Get(ctx context.Context, id EntryID) (EntryState, bool, error) {
	var state EntryState
	base, err := entryKey(id)
	if err != nil {
		return state, false, err
	}
	b, err := s.backend(ctx)
	if err != nil {
		return state, false, err
	}

	found := false
	err = db.View(ctx, b, func(tx db.Tx) error {
		for e, err := range ResourceTable.Scan(tx, base) {
			if err != nil {
				return err
			}
			if e.Key.Len() != 3 {
				continue
			}
			known, err := apply(&state, e.Key, e.Value)
			if err != nil {
				return err
			}
			found = found || known
		}
		return nil
	})
	if err != nil {
		return EntryState{}, false, err
	}
	return state, found, nil
}

func (s *EntryStore) SetOrder(ctx context.Context, id EntryID, order int64) error {
	raw, err := orderCodec.Encode(order)
	if err != nil {
		return db.WrapError(db.ErrCInvalidValue, err, "entry %s order", id)
	}
	return s.setField(ctx, id, FieldOrder, raw)
}

func (s *EntryStore) SetExpanded(ctx context.Context, id EntryID, expanded bool) error {
	raw, err := expandedCodec.Encode(expanded)
	if err != nil {
		return db.WrapError(db.ErrCInvalidValue, err, "entry %s expanded", id)
	}
	return s.setField(ctx, id, FieldExpanded, raw)
}

func (s *EntryStore) Remove(ctx context.Context, id EntryID) (int, error) {
	base, err := entryKey(id)
	if err != nil {
		return 0, err
	}
	b, err := s.backend(ctx)
	if err != nil {
		return 0, err
	}

	var events []notify.Event
	err = db.UpdateRetry(ctx, b, s.env.Retries, func(tx db.Tx) error {
		events = events[:0]
		var keys []segkey.SegKeyBuf
		for kv, err := range tx.ScanPrefix(ResourceTable.Name(), base.Prefix()) {
			if err != nil {
				return err
			}
			key, err := segkey.Decode(kv.Key)
			if err != nil {
				return db.WrapError(db.ErrCCorruption, err, "entry key %x", kv.Key)
			}
			keys = append(keys, key)
		}
		for _, key := range keys {
			if _, _, err := tx.Remove(ResourceTable.Name(), key.Bytes()); err != nil {
				return err
			}
			events = append(events, notify.Event{Scope: s.scope, Table: ResourceTable.Name(), Key: key, Removed: true})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.env.Publish(events...)
	return len(events), nil
}

func (s *EntryStore) List(ctx context.Context) ([]EntryItem, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}

	var out []EntryItem
	err = db.View(ctx, b, func(tx db.Tx) error {
		for e, err := range ResourceTable.Scan(tx, EntryRoot.Buf()) {
			if err != nil {
				return err
			}
			if e.Key.Len() != 3 {
				continue
			}
			id := EntryID(e.Key.Segment(1))
			// keys are ordered, so all fields of an id are adjacent
			if len(out) > 0 && out[len(out)-1].ID == id {
				if _, err := apply(&out[len(out)-1].State, e.Key, e.Value); err != nil {
					return err
				}
				continue
			}
			item := EntryItem{ID: id}
			known, err := apply(&item.State, e.Key, e.Value)
			if err != nil {
				return err
			}
			if known {
				out = append(out, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ IEntryStore = (*EntryStore)(nil)
