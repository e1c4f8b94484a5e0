package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultBusyTimeout = 5 * time.Second
	scanBatchSize      = 256
	tablePrefix        = "t_"
	defaultDirFileMode = 0o755
)

var log = logger.GetLogger("engine/sqlite")

// Options configures the sqlite backend
type Options struct {
	Path        string        // Database file
	BusyTimeout time.Duration // How long sqlite retries a locked file (0 = default)
	NoSync      bool          // synchronous=OFF instead of NORMAL
}

// sqliteImpl maps every table onto its own WITHOUT ROWID table in one
// sqlite file. Each transaction owns a pooled connection for its lifetime.
type sqliteImpl struct {
	db       *sql.DB
	path     string
	slot     chan struct{}
	tables   *xsync.MapOf[string, struct{}] // tables known to exist on disk
	closed   atomic.Bool
	counters *db.TxCounters
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewSQLiteDB opens (or creates) the sqlite file at opts.Path in WAL mode.
func NewSQLiteDB(opts *Options) (db.Backend, error) {
	if opts == nil || opts.Path == "" {
		return nil, db.NewError(db.ErrCIo, "sqlite: path required")
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), defaultDirFileMode); err != nil {
		return nil, db.WrapError(db.ErrCIo, err, "sqlite: create directory for %s", opts.Path)
	}

	handle, err := sql.Open("sqlite", dsn(opts.Path, busy, opts.NoSync))
	if err != nil {
		return nil, mapError(err, "sqlite: open %s", opts.Path)
	}

	// sql.Open is lazy, the first query touches the file
	var n int
	if err := handle.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		_ = handle.Close()
		return nil, mapError(err, "sqlite: open %s", opts.Path)
	}

	log.Debugf("opened %s (%d schema objects)", opts.Path, n)
	return &sqliteImpl{
		db:       handle,
		path:     opts.Path,
		slot:     make(chan struct{}, 1),
		tables:   xsync.NewMapOf[string, struct{}](),
		counters: db.NewTxCounters(db.ImplSQLite),
	}, nil
}

func dsn(path string, busy time.Duration, noSync bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	if noSync {
		q.Add("_pragma", "synchronous(OFF)")
	} else {
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

// mapError translates driver errors into db errors.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return db.WrapError(db.ErrCConflict, err, format, args...)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return db.WrapError(db.ErrCCorruption, err, format, args...)
		case sqlite3.SQLITE_TOOBIG:
			return db.WrapError(db.ErrCInvalidValue, err, format, args...)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return db.WrapError(db.ErrCTxClosed, err, format, args...)
	}
	return db.WrapError(db.ErrCIo, err, format, args...)
}

// quoteTable returns the quoted sqlite identifier of table.
func quoteTable(table string) string {
	return `"` + strings.ReplaceAll(tablePrefix+table, `"`, `""`) + `"`
}

// successor returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func successor(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Backend Interface Methods (docu see db.Backend)
// --------------------------------------------------------------------------

func (s *sqliteImpl) BeginRead(ctx context.Context) (db.Tx, error) {
	return s.begin(ctx, false)
}

func (s *sqliteImpl) BeginWrite(ctx context.Context) (db.Tx, error) {
	return s.begin(ctx, true)
}

func (s *sqliteImpl) begin(ctx context.Context, writable bool) (db.Tx, error) {
	if s.closed.Load() {
		return nil, db.NewError(db.ErrCUnavailable, "sqlite: backend closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, db.WrapError(db.ErrCUnavailable, err, "sqlite: begin")
	}

	if writable {
		select {
		case s.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, db.WrapError(db.ErrCUnavailable, ctx.Err(), "sqlite: waiting for writer slot")
		}
	}

	tx, err := s.open(ctx, writable)
	if err != nil {
		if writable {
			<-s.slot
		}
		return nil, err
	}
	return tx, nil
}

// open takes a connection and starts the transaction on it. Statements run
// without the caller's context: modernc interrupts running statements on
// cancellation, which would break the transaction halfway.
func (s *sqliteImpl) open(ctx context.Context, writable bool) (*txImpl, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		if s.closed.Load() || errors.Is(err, sql.ErrConnDone) {
			return nil, db.WrapError(db.ErrCUnavailable, err, "sqlite: acquire connection")
		}
		return nil, mapError(err, "sqlite: acquire connection")
	}

	tx := &txImpl{
		backend:  s,
		conn:     conn,
		ctx:      context.WithoutCancel(ctx),
		writable: writable,
	}

	stmt := "BEGIN DEFERRED"
	if writable {
		stmt = "BEGIN IMMEDIATE"
	}
	if _, err := conn.ExecContext(tx.ctx, stmt); err != nil {
		_ = conn.Close()
		return nil, mapError(err, "sqlite: %s", strings.ToLower(stmt))
	}

	// the read snapshot starts with the first read, pin it now
	var n int
	if err := conn.QueryRowContext(tx.ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		_, _ = conn.ExecContext(tx.ctx, "ROLLBACK")
		_ = conn.Close()
		return nil, mapError(err, "sqlite: pin snapshot")
	}
	return tx, nil
}

func (s *sqliteImpl) Info() db.Info {
	features := db.FeaturePersistent | db.FeatureSnapshotReads | db.FeatureSingleWriter |
		db.FeatureConcurrentReaders | db.FeatureMultiProcess

	info := db.Info{
		DbType:            db.ImplSQLite,
		SupportedFeatures: features.Features(),
		Path:              s.path,
	}
	if s.closed.Load() {
		return info
	}

	var pageCount, pageSize int
	var journal, version string
	_ = s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	_ = s.db.QueryRow("PRAGMA journal_mode").Scan(&journal)
	_ = s.db.QueryRow("SELECT sqlite_version()").Scan(&version)
	info.SizeBytes = pageCount * pageSize

	rows, err := s.db.Query(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND substr(name, 1, ?) = ? ORDER BY name`,
		len(tablePrefix), tablePrefix)
	if err == nil {
		for rows.Next() {
			var name string
			if rows.Scan(&name) == nil {
				info.Tables = append(info.Tables, strings.TrimPrefix(name, tablePrefix))
			}
		}
		_ = rows.Close()
	}

	info.Metadata = &struct {
		Pages         int    `json:"pages" yaml:"pages"`
		PageSize      int    `json:"page_size" yaml:"page_size"`
		JournalMode   string `json:"journal_mode" yaml:"journal_mode"`
		SQLiteVersion string `json:"sqlite_version" yaml:"sqlite_version"`
		OpenConns     int    `json:"open_conns" yaml:"open_conns"`
	}{
		Pages:         pageCount,
		PageSize:      pageSize,
		JournalMode:   journal,
		SQLiteVersion: version,
		OpenConns:     s.db.Stats().OpenConnections,
	}
	return info
}

// Close closes the pool. Connections of open transactions are closed when
// the transaction ends.
func (s *sqliteImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return mapError(s.db.Close(), "sqlite: close %s", s.path)
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

type txImpl struct {
	backend  *sqliteImpl
	conn     *sql.Conn
	ctx      context.Context
	writable bool
	done     bool
	created  map[string]struct{} // tables created by this transaction
}

func (t *txImpl) checkOpen(write bool) error {
	if t.done {
		return db.ErrTxClosed
	}
	if write && !t.writable {
		return db.ErrReadOnly
	}
	return nil
}

// exists reports whether table is visible to this transaction.
func (t *txImpl) exists(table string) (bool, error) {
	if _, ok := t.created[table]; ok {
		return true, nil
	}
	if _, ok := t.backend.tables.Load(table); ok {
		return true, nil
	}
	var n int
	err := t.conn.QueryRowContext(t.ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, tablePrefix+table).Scan(&n)
	if err != nil {
		return false, mapError(err, "sqlite: lookup table %s", table)
	}
	if n == 0 {
		return false, nil
	}
	t.backend.tables.Store(table, struct{}{})
	return true, nil
}

// ensure creates table inside this transaction if it does not exist yet.
func (t *txImpl) ensure(table string) error {
	ok, err := t.exists(table)
	if err != nil || ok {
		return err
	}
	_, err = t.conn.ExecContext(t.ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (k BLOB PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`, quoteTable(table)))
	if err != nil {
		return mapError(err, "sqlite: create table %s", table)
	}
	if t.created == nil {
		t.created = make(map[string]struct{})
	}
	t.created[table] = struct{}{}
	return nil
}

func (t *txImpl) Get(table string, key []byte) ([]byte, bool, error) {
	if err := t.checkOpen(false); err != nil {
		return nil, false, err
	}
	if ok, err := t.exists(table); err != nil || !ok {
		return nil, false, err
	}

	var v []byte
	err := t.conn.QueryRowContext(t.ctx,
		fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, quoteTable(table)), key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, mapError(err, "sqlite: get from %s", table)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

func (t *txImpl) Put(table string, key, value []byte) error {
	if err := t.checkOpen(true); err != nil {
		return err
	}
	if err := t.ensure(table); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.conn.ExecContext(t.ctx, fmt.Sprintf(
		`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, quoteTable(table)),
		key, value)
	return mapError(err, "sqlite: put into %s", table)
}

func (t *txImpl) Remove(table string, key []byte) ([]byte, bool, error) {
	if err := t.checkOpen(true); err != nil {
		return nil, false, err
	}
	if ok, err := t.exists(table); err != nil || !ok {
		return nil, false, err
	}

	var prev []byte
	err := t.conn.QueryRowContext(t.ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE k = ? RETURNING v`, quoteTable(table)), key).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, mapError(err, "sqlite: delete from %s", table)
	}
	if prev == nil {
		prev = []byte{}
	}
	return prev, true, nil
}

// ScanPrefix pages through the range. Every page is read completely before
// it is handed out, so the caller may write to the table while iterating.
func (t *txImpl) ScanPrefix(table string, prefix []byte) iter.Seq2[db.KV, error] {
	return func(yield func(db.KV, error) bool) {
		if err := t.checkOpen(false); err != nil {
			yield(db.KV{}, err)
			return
		}
		ok, err := t.exists(table)
		if err != nil {
			yield(db.KV{}, err)
			return
		}
		if !ok {
			return
		}

		end := successor(prefix)
		var last []byte
		for {
			batch, err := t.page(table, prefix, end, last)
			if err != nil {
				yield(db.KV{}, err)
				return
			}
			for _, kv := range batch {
				if !yield(kv, nil) {
					return
				}
			}
			if len(batch) < scanBatchSize {
				return
			}
			last = batch[len(batch)-1].Key
		}
	}
}

// page reads up to scanBatchSize entries in [prefix, end) after last.
func (t *txImpl) page(table string, prefix, end, last []byte) ([]db.KV, error) {
	var (
		where []string
		args  []any
	)
	if last != nil {
		where = append(where, "k > ?")
		args = append(args, last)
	} else if len(prefix) > 0 {
		// a nil blob would bind as NULL
		where = append(where, "k >= ?")
		args = append(args, prefix)
	}
	if end != nil {
		where = append(where, "k < ?")
		args = append(args, end)
	}
	args = append(args, scanBatchSize)

	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(`SELECT k, v FROM %s %s ORDER BY k LIMIT ?`, quoteTable(table), cond)
	rows, err := t.conn.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "sqlite: scan %s", table)
	}
	defer rows.Close()

	batch := make([]db.KV, 0, scanBatchSize)
	for rows.Next() {
		var kv db.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, mapError(err, "sqlite: scan %s", table)
		}
		if kv.Value == nil {
			kv.Value = []byte{}
		}
		batch = append(batch, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "sqlite: scan %s", table)
	}
	return batch, nil
}

func (t *txImpl) Writable() bool { return t.writable }

func (t *txImpl) Commit() error {
	if t.done {
		return db.ErrTxClosed
	}
	t.done = true
	defer t.release()

	if _, err := t.conn.ExecContext(t.ctx, "COMMIT"); err != nil {
		// a failed COMMIT leaves the transaction open
		_, _ = t.conn.ExecContext(t.ctx, "ROLLBACK")
		err = mapError(err, "sqlite: commit")
		if t.writable && errors.Is(err, db.ErrConflict) {
			t.backend.counters.Conflicts.Inc()
		}
		return err
	}

	if t.writable {
		for table := range t.created {
			t.backend.tables.Store(table, struct{}{})
		}
		t.backend.counters.Commits.Inc()
	}
	return nil
}

func (t *txImpl) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	if t.writable {
		t.backend.counters.Rollbacks.Inc()
	}
	_, err := t.conn.ExecContext(t.ctx, "ROLLBACK")
	return mapError(err, "sqlite: rollback")
}

// release returns the connection to the pool and frees the writer slot.
func (t *txImpl) release() {
	if err := t.conn.Close(); err != nil {
		log.Warningf("release connection: %v", err)
	}
	if t.writable {
		<-t.backend.slot
	}
}
