// Package table maps typed values onto the byte level storage of a db.Backend.
//
// A Table[V] pairs a stable storage name (^[a-z][a-z0-9_]*$) with a Codec[V].
// Names are part of the on-disk layout: renaming a table orphans its data.
// Several tables and several key roots (see lib/segkey) may live in the same
// backend; an engine maps each table name to its own storage unit (bbolt
// bucket, SQLite table, maple tree partition).
//
// Codecs: CBOR (default for domain structs), JSON, Gob, and fixed binary
// codecs for String, Bytes, Bool, Int64 and Uint64. Encode failures surface as
// db.ErrInvalidValue, decode failures as db.ErrCorruption; a Scan stops at the
// first corrupt entry.
package table
