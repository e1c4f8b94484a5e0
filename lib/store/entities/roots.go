package entities

import (
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/ValentinKolb/sKV/lib/table"
	"github.com/fxamacker/cbor/v2"
)

// Key roots. Every data kind owns exactly one root; Register panics at
// startup if two kinds claim the same one.
var (
	WorkspaceRoot   = segkey.Register("workspace", "entities.WorkspaceStore")
	ItemRoot        = segkey.Register("item", "entities.ItemStore")
	EnvironmentRoot = segkey.Register("environment", "entities.EnvironmentStore")
	VariableRoot    = segkey.Register("variable", "entities.VariableStore")
	EntryRoot       = segkey.Register("entry", "entities.EntryStore")
)

// Tables. The names are part of the on-disk format and must never change
// without a migration.
var (
	WorkspaceTable   = table.New("workspaces", table.CBOR[WorkspaceInfo]())
	ItemTable        = table.New("items", table.Bytes())
	EnvironmentTable = table.New("environments", table.CBOR[EnvironmentEntity]())
	VariableTable    = table.New("variables", table.CBOR[VariableEntity]())
	ResourceTable    = table.New("resources", table.CBOR[cbor.RawMessage]())
)
