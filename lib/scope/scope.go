package scope

import (
	"fmt"
	"strings"
)

// Kind is the partition a scope belongs to.
type Kind uint8

const (
	KindApplication Kind = iota + 1
	KindWorkspace
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindWorkspace:
		return "workspace"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Scope names the tenant whose backend a store uses. Scopes are comparable
// values and can be used as map keys; two scopes are equal iff kind and id
// are equal.
type Scope struct {
	kind Kind
	id   string
}

// Application is the scope of application wide data. There is exactly one.
func Application() Scope { return Scope{kind: KindApplication} }

// Workspace is the scope of the workspace with the given id.
func Workspace(id string) Scope { return Scope{kind: KindWorkspace, id: id} }

// Collection is the scope of the collection with the given id.
func Collection(id string) Scope { return Scope{kind: KindCollection, id: id} }

func (s Scope) Kind() Kind          { return s.kind }
func (s Scope) ID() string          { return s.id }
func (s Scope) IsZero() bool        { return s.kind == 0 }
func (s Scope) IsApplication() bool { return s.kind == KindApplication }

// String returns "application", "workspace:<id>" or "collection:<id>".
func (s Scope) String() string {
	if s.kind == KindApplication {
		return s.kind.String()
	}
	return s.kind.String() + ":" + s.id
}

// Parse is the inverse of String.
func Parse(str string) (Scope, error) {
	if str == KindApplication.String() {
		return Application(), nil
	}
	kind, id, ok := strings.Cut(str, ":")
	if !ok || id == "" {
		return Scope{}, fmt.Errorf("invalid scope %q (expected application, workspace:<id> or collection:<id>)", str)
	}
	switch kind {
	case KindWorkspace.String():
		return Workspace(id), nil
	case KindCollection.String():
		return Collection(id), nil
	}
	return Scope{}, fmt.Errorf("invalid scope kind %q", kind)
}
