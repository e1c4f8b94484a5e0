package internal

import (
	"bytes"
	"fmt"

	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Item Type (table, key, value triple stored in the tree)
// --------------------------------------------------------------------------

// Item is a single entry of the tree. Items are ordered by table, then key.
// Stored items are never modified in place; a new value replaces the item.
type Item struct {
	Table string
	Key   []byte
	Value []byte
}

// Less orders items by table name and then by key bytes.
func Less(a, b Item) bool {
	if a.Table != b.Table {
		return a.Table < b.Table
	}
	return bytes.Compare(a.Key, b.Key) < 0
}

func (i Item) String() string {
	return fmt.Sprintf("Item{Table: %s, Key: %x, Len: %d}", i.Table, i.Key, len(i.Value))
}

// Tree is the ordered, copy-on-write container of all items.
type Tree = btree.BTreeG[Item]

// NewTree creates an empty tree with the given node degree.
func NewTree(degree int) *Tree {
	return btree.NewG[Item](degree, Less)
}

// --------------------------------------------------------------------------
// Mutation Type (buffered write of a transaction)
// --------------------------------------------------------------------------

// MutationType distinguishes puts from removals in a write set.
type MutationType int

const (
	MutationTPut MutationType = iota
	MutationTRemove
)

func (m MutationType) String() string {
	switch m {
	case MutationTPut:
		return "Put"
	case MutationTRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// Mutation is a buffered write, applied to the published tree at commit.
type Mutation struct {
	Type  MutationType
	Table string
	Key   []byte
	Value []byte
}

// KeyID returns a map key identifying (table, key). Table names never contain 0x00.
func KeyID(table string, key []byte) string {
	return table + "\x00" + string(key)
}

// --------------------------------------------------------------------------
// Range helpers
// --------------------------------------------------------------------------

// AscendPrefix calls fn for every item of table whose key starts with prefix,
// in order, until fn returns false.
func AscendPrefix(t *Tree, table string, prefix []byte, fn func(Item) bool) {
	t.AscendGreaterOrEqual(Item{Table: table, Key: prefix}, func(it Item) bool {
		if it.Table != table || !bytes.HasPrefix(it.Key, prefix) {
			return false
		}
		return fn(it)
	})
}

// Tables returns the distinct table names present in t.
func Tables(t *Tree) []string {
	var tables []string
	next := Item{}
	for {
		var found *Item
		t.AscendGreaterOrEqual(next, func(it Item) bool {
			found = &it
			return false
		})
		if found == nil {
			return tables
		}
		tables = append(tables, found.Table)
		// table names are [a-z0-9_], so this sorts after every key of found.Table
		next = Item{Table: found.Table + "\x00"}
	}
}
