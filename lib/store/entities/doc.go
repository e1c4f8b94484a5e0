// Package entities contains the concrete stores of the application.
//
//	Store             Scope        Table          Root
//	WorkspaceStore    application  workspaces     workspace/<id>
//	ItemStore         application  items          item/<key>
//	EnvironmentStore  workspace    environments   environment/<id>
//	VariableStore     collection   variables      variable/<id>
//	EntryStore        collection   resources      entry/<id>/<field>
//
// All but EntryStore are tstore.Store instances. EntryStore keeps one key per
// field of an entry, so setting the order of an entry never rewrites its
// expanded flag and vice versa.
//
// The roots are registered with segkey.Register when the package is
// initialised; a second data kind claiming one of them panics at startup.
package entities
