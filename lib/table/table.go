package table

import (
	"fmt"
	"iter"
	"regexp"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/segkey"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Definition is what a backend needs to locate the storage unit of a table.
type Definition struct {
	Name     string `json:"name" yaml:"name"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

// Entry is a decoded key/value pair returned by Scan.
type Entry[V any] struct {
	Key   segkey.SegKeyBuf
	Value V
}

// Table binds a stable storage name to a value codec. Tables are immutable
// and can be declared as package level values and shared freely.
type Table[V any] struct {
	name  string
	codec Codec[V]
}

// New creates a table. It panics on an invalid name, since table names are
// part of the on-disk layout and fixed at compile time.
func New[V any](name string, codec Codec[V]) Table[V] {
	if !namePattern.MatchString(name) {
		panic(fmt.Sprintf("table: invalid name %q", name))
	}
	if codec.Encode == nil || codec.Decode == nil {
		panic(fmt.Sprintf("table %q: incomplete codec", name))
	}
	return Table[V]{name: name, codec: codec}
}

// Name returns the storage name of the table.
func (t Table[V]) Name() string { return t.name }

// Definition returns the table's storage definition.
func (t Table[V]) Definition() Definition {
	return Definition{Name: t.name, Encoding: t.codec.Name}
}

// Encode converts v to bytes; failures are InvalidValue errors.
func (t Table[V]) Encode(v V) ([]byte, error) {
	data, err := t.codec.Encode(v)
	if err != nil {
		return nil, db.WrapError(db.ErrCInvalidValue, err, "table %s: encode %s", t.name, t.codec.Name)
	}
	return data, nil
}

// Decode converts stored bytes to V; failures are Corruption errors.
func (t Table[V]) Decode(data []byte) (V, error) {
	v, err := t.codec.Decode(data)
	if err != nil {
		var zero V
		return zero, db.WrapError(db.ErrCCorruption, err, "table %s: decode %s", t.name, t.codec.Name)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Typed operations
// --------------------------------------------------------------------------

// Get reads and decodes the value under key.
func (t Table[V]) Get(tx db.Tx, key segkey.SegKeyBuf) (V, bool, error) {
	var zero V
	data, found, err := tx.Get(t.name, key.Bytes())
	if err != nil || !found {
		return zero, false, err
	}
	v, err := t.Decode(data)
	if err != nil {
		return zero, false, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// Put encodes v and stores it under key.
func (t Table[V]) Put(tx db.Tx, key segkey.SegKeyBuf, v V) error {
	data, err := t.Encode(v)
	if err != nil {
		return fmt.Errorf("key %s: %w", key, err)
	}
	return tx.Put(t.name, key.Bytes(), data)
}

// Remove deletes key and returns the decoded previous value.
// A previous value that fails to decode is still removed; the error reports
// the corruption.
func (t Table[V]) Remove(tx db.Tx, key segkey.SegKeyBuf) (V, bool, error) {
	var zero V
	data, found, err := tx.Remove(t.name, key.Bytes())
	if err != nil || !found {
		return zero, false, err
	}
	v, err := t.Decode(data)
	if err != nil {
		return zero, true, fmt.Errorf("key %s: %w", key, err)
	}
	return v, true, nil
}

// Scan iterates over all entries below prefix in key order. The iteration
// stops at the first error, which is yielded once.
func (t Table[V]) Scan(tx db.Tx, prefix segkey.SegKeyBuf) iter.Seq2[Entry[V], error] {
	return t.ScanBytes(tx, prefix.Prefix())
}

// ScanBytes is Scan with a raw byte prefix. It matches keys whose encoding
// starts with prefix, e.g. all ids starting with "ab" below a root:
//
//	tbl.ScanBytes(tx, root.Join("ab").Bytes())
func (t Table[V]) ScanBytes(tx db.Tx, prefix []byte) iter.Seq2[Entry[V], error] {
	return func(yield func(Entry[V], error) bool) {
		for kv, err := range tx.ScanPrefix(t.name, prefix) {
			if err != nil {
				yield(Entry[V]{}, err)
				return
			}
			key, err := segkey.Decode(kv.Key)
			if err != nil {
				yield(Entry[V]{}, db.WrapError(db.ErrCCorruption, err, "table %s: key %x", t.name, kv.Key))
				return
			}
			v, err := t.Decode(kv.Value)
			if err != nil {
				yield(Entry[V]{Key: key}, fmt.Errorf("key %s: %w", key, err))
				return
			}
			if !yield(Entry[V]{Key: key, Value: v}, nil) {
				return
			}
		}
	}
}

// Collect drains a scan into a slice, returning the first error.
func Collect[V any](seq iter.Seq2[Entry[V], error]) ([]Entry[V], error) {
	var out []Entry[V]
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
