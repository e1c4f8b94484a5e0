package segkey

import (
	"fmt"
	"sort"
	"sync"
)

// RootInfo describes a registered root and the data kind that owns it.
type RootInfo struct {
	Root  SegKey
	Owner string
}

var registry = struct {
	sync.RWMutex
	owners map[string]string
}{owners: make(map[string]string)}

// Register declares root as owned by owner and returns it as a SegKey.
// It is meant to be called from package level var declarations, so the set of
// roots is fixed once all packages are initialised. Registering the same root
// twice panics: two data kinds sharing a root would collide in prefix scans.
//
// Thread-safety: This function is thread-safe, but the registry is expected to
// be read-only after process start.
func Register(root, owner string) SegKey {
	key := New(root)

	registry.Lock()
	defer registry.Unlock()

	if prev, ok := registry.owners[root]; ok {
		panic(fmt.Sprintf("segkey: root %q registered by %q is already owned by %q", root, owner, prev))
	}
	registry.owners[root] = owner
	return key
}

// Lookup returns the owner of a root.
func Lookup(root string) (owner string, ok bool) {
	registry.RLock()
	defer registry.RUnlock()
	owner, ok = registry.owners[root]
	return owner, ok
}

// Roots returns all registered roots sorted by name.
func Roots() []RootInfo {
	registry.RLock()
	defer registry.RUnlock()

	out := make([]RootInfo, 0, len(registry.owners))
	for root, owner := range registry.owners {
		out = append(out, RootInfo{Root: SegKey{root: root}, Owner: owner})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root.root < out[j].Root.root })
	return out
}
