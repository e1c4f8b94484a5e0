// Package sqlite implements db.Backend on modernc.org/sqlite, a cgo free
// port of SQLite, through database/sql.
//
// Every table is stored as a WITHOUT ROWID table (k BLOB PRIMARY KEY, v BLOB)
// named "t_<table>", created by the first write. The file runs in WAL mode,
// so readers never block the writer and vice versa.
//
// Transactions own one pooled connection each:
//   - read: BEGIN DEFERRED plus one read of sqlite_master, which pins the
//     snapshot at begin instead of at the first real read
//   - write: an in-process writer slot (context aware), then BEGIN IMMEDIATE
//
// Statements of a transaction run detached from the caller's context, the
// context only bounds how long Begin waits.
//
// Driver errors are mapped on the primary result code: SQLITE_BUSY and
// SQLITE_LOCKED (another process holds the file longer than BusyTimeout)
// become db.ErrConflict, SQLITE_CORRUPT and SQLITE_NOTADB become
// db.ErrCorruption, everything else db.ErrIo.
package sqlite
