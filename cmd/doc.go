// Package cmd implements the command-line interface of sKV. The commands work
// directly on the data directory; there is no server.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for raw entries of a scope (get, put, del, scan, tables, perf)
//   - stats: Backend info of opened scopes and the process metrics
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Storage flags (--data-dir, --application-engine, ...) can also be set with
// SKV_* environment variables or in a .env file, e.g. SKV_DATA_DIR=/var/lib/skv.
//
// See skv -help for a list of all commands.
package cmd
