package entities

import (
	"context"
	"encoding/json"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/tstore"
)

// ItemKey names an application wide setting.
type ItemKey string

// ItemStore keeps raw application settings. The caller owns the format;
// GetJSON and PutJSON cover the common case of JSON documents.
type ItemStore struct {
	*tstore.Store[ItemKey, []byte]
}

func NewItemStore(env store.Env) *ItemStore {
	return &ItemStore{tstore.New[ItemKey](env, scope.Application(), ItemTable, ItemRoot)}
}

// GetJSON reads key and unmarshals it into a T.
func GetJSON[T any](ctx context.Context, s *ItemStore, key ItemKey) (T, bool, error) {
	var v T
	data, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return v, found, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, true, db.WrapError(db.ErrCCorruption, err, "item %s", key)
	}
	return v, true, nil
}

// PutJSON marshals v and stores it under key.
func PutJSON[T any](ctx context.Context, s *ItemStore, key ItemKey, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return db.WrapError(db.ErrCInvalidValue, err, "item %s", key)
	}
	return s.Put(ctx, key, data)
}
