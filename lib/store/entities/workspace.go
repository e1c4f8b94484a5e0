package entities

import (
	"time"

	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/tstore"
)

// WorkspaceID identifies a workspace.
type WorkspaceID string

// WorkspaceInfo is the application wide record of a known workspace.
type WorkspaceInfo struct {
	Name         string    `cbor:"name" json:"name" yaml:"name"`
	LastOpenedAt time.Time `cbor:"last_opened_at" json:"last_opened_at" yaml:"last_opened_at"`
}

// WorkspaceStore keeps the list of workspaces in the application scope.
type WorkspaceStore struct {
	*tstore.Store[WorkspaceID, WorkspaceInfo]
}

func NewWorkspaceStore(env store.Env) *WorkspaceStore {
	return &WorkspaceStore{tstore.New[WorkspaceID](env, scope.Application(), WorkspaceTable, WorkspaceRoot)}
}
