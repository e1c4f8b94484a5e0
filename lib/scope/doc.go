// Package scope partitions stored data by tenant.
//
// A Scope is the application (one per process), a workspace or a collection.
// Every scope has its own backend and its own container file below the data
// directory, so data of two tenants can never be confused even when they use
// identical keys:
//
//	<data-dir>/application.<ext>
//	<data-dir>/workspaces/<id>.<ext>
//	<data-dir>/collections/<id>.<ext>
//
// The Registry owns all backends. It opens the application backend when it
// is created and every other one on first Resolve; a failed open is reported
// as db.ErrScopeUnavailable and retried by the next Resolve. Close stops new
// transactions of a scope, waits for running ones and releases the file.
//
// NewOpener turns a config.Config into the OpenFunc of a registry: the engine
// is picked per scope kind, once, when the backend is opened.
package scope
