package entities

import (
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/tstore"
)

// VariableID identifies a variable inside its collection.
type VariableID string

// VariableEntity is the local state of a collection variable.
//
// LocalValue holds any CBOR value. After a round trip strings stay strings,
// integers come back as uint64 (non-negative) or int64, floats as float64 and
// maps as map[string]any.
type VariableEntity struct {
	Disabled   bool   `cbor:"disabled" json:"disabled" yaml:"disabled"`
	Order      *int64 `cbor:"order,omitempty" json:"order,omitempty" yaml:"order,omitempty"`
	LocalValue any    `cbor:"local_value,omitempty" json:"local_value,omitempty" yaml:"local_value,omitempty"`
}

// VariableStore keeps the variables of one collection.
type VariableStore struct {
	*tstore.Store[VariableID, VariableEntity]
}

func NewVariableStore(env store.Env, collection string) *VariableStore {
	return &VariableStore{tstore.New[VariableID](
		env, scope.Collection(collection), VariableTable, VariableRoot)}
}
