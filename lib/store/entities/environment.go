package entities

import (
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/tstore"
)

// EnvironmentID identifies an environment inside its workspace.
type EnvironmentID string

// EnvironmentEntity is the stored state of one environment.
type EnvironmentEntity struct {
	Name     string `cbor:"name" json:"name" yaml:"name"`
	Color    string `cbor:"color,omitempty" json:"color,omitempty" yaml:"color,omitempty"`
	Order    *int64 `cbor:"order,omitempty" json:"order,omitempty" yaml:"order,omitempty"`
	Expanded bool   `cbor:"expanded" json:"expanded" yaml:"expanded"`
}

// EnvironmentStore keeps the environments of one workspace.
type EnvironmentStore struct {
	*tstore.Store[EnvironmentID, EnvironmentEntity]
}

func NewEnvironmentStore(env store.Env, workspace WorkspaceID) *EnvironmentStore {
	return &EnvironmentStore{tstore.New[EnvironmentID](
		env, scope.Workspace(string(workspace)), EnvironmentTable, EnvironmentRoot)}
}
