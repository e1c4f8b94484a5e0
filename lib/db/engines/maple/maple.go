package maple

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/sKV/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultDegree = 32 // btree node degree
	entryOverhead = 48 // rough per item cost of the tree node slot and slice headers
)

var log = logger.GetLogger("engine/maple")

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl is an in-memory backend built on a copy-on-write btree.
// The published tree is never modified: readers use it directly, writers
// clone it and publish a new tree on commit.
type mapleImpl struct {
	opts *Options

	mu      sync.Mutex                    // serializes clone and commit
	tree    atomic.Pointer[internal.Tree] // published snapshot
	version uint64                        // commit counter, guarded by mu

	histogram *util.SizeHistogram
	counters  *db.TxCounters
	closed    atomic.Bool
}

// Options configures the maple backend
type Options struct {
	Path         string // Snapshot file ("" = memory only)
	SyncOnCommit bool   // Write the snapshot after every commit instead of only at Close
	Degree       int    // Btree degree (0 = default)
}

// DefaultOptions returns the default options of a memory only backend
func DefaultOptions() *Options {
	return &Options{Degree: defaultDegree}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new maple backend. If opts.Path points to an existing
// snapshot, it is loaded; a damaged snapshot yields a Corruption error.
func NewMapleDB(opts *Options) (db.Backend, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Degree <= 1 {
		opts.Degree = defaultDegree
	}

	m := &mapleImpl{
		opts:      opts,
		histogram: util.NewSizeHistogram(),
		counters:  db.NewTxCounters(db.ImplMaple),
	}

	tree := internal.NewTree(opts.Degree)
	if opts.Path != "" {
		loaded, version, err := m.load()
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			tree = loaded
			m.version = version
			log.Infof("loaded %d items from %s (version %d)", tree.Len(), opts.Path, version)
		}
	}

	tree.Ascend(func(it internal.Item) bool {
		m.histogram.AddSample(len(it.Value))
		return true
	})
	m.tree.Store(tree)
	return m, nil
}

// --------------------------------------------------------------------------
// Backend Interface Methods (docu see db.Backend)
// --------------------------------------------------------------------------

func (m *mapleImpl) BeginRead(ctx context.Context) (db.Tx, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	return &txImpl{db: m, base: m.tree.Load()}, nil
}

func (m *mapleImpl) BeginWrite(ctx context.Context) (db.Tx, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	// Clone is not safe for concurrent use on the same tree
	m.mu.Lock()
	base := m.tree.Load()
	work := base.Clone()
	m.mu.Unlock()

	return &txImpl{
		db:       m,
		base:     base,
		work:     work,
		writable: true,
		writes:   make(map[string]internal.Mutation),
		reads:    make(map[string]readRecord),
	}, nil
}

func (m *mapleImpl) check(ctx context.Context) error {
	if m.closed.Load() {
		return db.NewError(db.ErrCUnavailable, "maple: backend closed")
	}
	if err := ctx.Err(); err != nil {
		return db.WrapError(db.ErrCUnavailable, err, "maple: begin")
	}
	return nil
}

// Close marks the backend closed and writes the snapshot file if configured.
func (m *mapleImpl) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.opts.Path == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(m.tree.Load(), m.version)
}

// Info returns statistics about the backend
func (m *mapleImpl) Info() db.Info {
	tree := m.tree.Load()

	features := db.FeatureSnapshotReads | db.FeatureOptimistic | db.FeatureConcurrentReaders
	if m.opts.Path != "" {
		features |= db.FeaturePersistent
	}

	meta := &struct {
		Entries      int                    `json:"entries" yaml:"entries"`
		Values       util.HistogramSnapshot `json:"values" yaml:"values"`
		SyncOnCommit bool                   `json:"sync_on_commit" yaml:"sync_on_commit"`
		Info         string                 `json:"info" yaml:"info"`
	}{
		Entries:      tree.Len(),
		Values:       m.histogram.Snapshot(),
		SyncOnCommit: m.opts.SyncOnCommit,
		Info:         "SizeBytes is an estimate based on the value size histogram.",
	}

	return db.Info{
		SizeBytes:         int(m.histogram.Sum()) + tree.Len()*entryOverhead,
		DbType:            db.ImplMaple,
		SupportedFeatures: features.Features(),
		Tables:            internal.Tables(tree),
		Path:              m.opts.Path,
		Metadata:          meta,
	}
}

// --------------------------------------------------------------------------
// Commit
// --------------------------------------------------------------------------

// commit validates tx against the published tree and publishes its writes.
// A tx conflicts if anything it read (single keys or scanned ranges) changed
// since it began; the first committer wins.
func (m *mapleImpl) commit(tx *txImpl) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return db.NewError(db.ErrCUnavailable, "maple: backend closed")
	}

	current := m.tree.Load()
	if current != tx.base {
		if err := tx.validate(current); err != nil {
			m.counters.Conflicts.Inc()
			return err
		}
	}
	if len(tx.writes) == 0 {
		return nil
	}

	next := current.Clone()
	for _, mut := range tx.writes {
		lookup := internal.Item{Table: mut.Table, Key: mut.Key}
		switch mut.Type {
		case internal.MutationTPut:
			lookup.Value = mut.Value
			if old, replaced := next.ReplaceOrInsert(lookup); replaced {
				m.histogram.RemoveSample(len(old.Value))
			}
			m.histogram.AddSample(len(mut.Value))
		case internal.MutationTRemove:
			if old, removed := next.Delete(lookup); removed {
				m.histogram.RemoveSample(len(old.Value))
			}
		}
	}

	m.version++
	m.tree.Store(next)

	if m.opts.SyncOnCommit && m.opts.Path != "" {
		if err := m.save(next, m.version); err != nil {
			// the commit is already visible in memory; report the durability failure
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// save writes the tree to a temporary file and renames it over the snapshot.
// Must be called with mu held.
func (m *mapleImpl) save(tree *internal.Tree, version uint64) error {
	dir := filepath.Dir(m.opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return db.WrapError(db.ErrCIo, err, "maple: create %s", dir)
	}

	f, err := os.CreateTemp(dir, filepath.Base(m.opts.Path)+".*.tmp")
	if err != nil {
		return db.WrapError(db.ErrCIo, err, "maple: create snapshot")
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if err := internal.WriteSnapshot(f, tree, version); err != nil {
		f.Close()
		return db.WrapError(db.ErrCIo, err, "maple: write snapshot")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return db.WrapError(db.ErrCIo, err, "maple: sync snapshot")
	}
	if err := f.Close(); err != nil {
		return db.WrapError(db.ErrCIo, err, "maple: close snapshot")
	}
	if err := os.Rename(tmp, m.opts.Path); err != nil {
		return db.WrapError(db.ErrCIo, err, "maple: publish snapshot")
	}
	return nil
}

// load reads the snapshot file. A missing file returns a nil tree.
func (m *mapleImpl) load() (*internal.Tree, uint64, error) {
	f, err := os.Open(m.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, db.WrapError(db.ErrCIo, err, "maple: open %s", m.opts.Path)
	}
	defer f.Close()

	tree, version, err := internal.ReadSnapshot(f, m.opts.Degree)
	if errors.Is(err, internal.ErrBadSnapshot) {
		return nil, 0, db.WrapError(db.ErrCCorruption, err, "maple: load %s", m.opts.Path)
	}
	if err != nil {
		return nil, 0, db.WrapError(db.ErrCIo, err, "maple: load %s", m.opts.Path)
	}
	return tree, version, nil
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

type readRecord struct {
	table string
	key   []byte
}

type prefixRecord struct {
	table  string
	prefix []byte
}

// txImpl is a maple transaction. Read transactions only hold the published
// tree they started from; write transactions additionally own a private clone
// and record what they read for commit validation.
type txImpl struct {
	db       *mapleImpl
	base     *internal.Tree
	work     *internal.Tree
	writable bool
	done     bool

	writes map[string]internal.Mutation
	reads  map[string]readRecord
	scans  []prefixRecord
}

func (tx *txImpl) view() *internal.Tree {
	if tx.writable {
		return tx.work
	}
	return tx.base
}

func (tx *txImpl) checkOpen(write bool) error {
	if tx.done {
		return db.ErrTxClosed
	}
	if write && !tx.writable {
		return db.ErrReadOnly
	}
	return nil
}

func (tx *txImpl) Get(table string, key []byte) ([]byte, bool, error) {
	if err := tx.checkOpen(false); err != nil {
		return nil, false, err
	}
	tx.recordRead(table, key)

	it, ok := tx.view().Get(internal.Item{Table: table, Key: key})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(it.Value), true, nil
}

func (tx *txImpl) Put(table string, key, value []byte) error {
	if err := tx.checkOpen(true); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	mut := internal.Mutation{
		Type:  internal.MutationTPut,
		Table: table,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	}
	tx.writes[internal.KeyID(table, key)] = mut
	tx.work.ReplaceOrInsert(internal.Item{Table: mut.Table, Key: mut.Key, Value: mut.Value})
	return nil
}

func (tx *txImpl) Remove(table string, key []byte) ([]byte, bool, error) {
	if err := tx.checkOpen(true); err != nil {
		return nil, false, err
	}
	tx.recordRead(table, key)

	k := bytes.Clone(key)
	tx.writes[internal.KeyID(table, key)] = internal.Mutation{Type: internal.MutationTRemove, Table: table, Key: k}

	old, ok := tx.work.Delete(internal.Item{Table: table, Key: k})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(old.Value), true, nil
}

func (tx *txImpl) ScanPrefix(table string, prefix []byte) iter.Seq2[db.KV, error] {
	return func(yield func(db.KV, error) bool) {
		if err := tx.checkOpen(false); err != nil {
			yield(db.KV{}, err)
			return
		}

		tree := tx.base
		if tx.writable {
			tx.scans = append(tx.scans, prefixRecord{table: table, prefix: bytes.Clone(prefix)})
			// iterate a clone so the caller may write to tx while scanning
			tree = tx.work.Clone()
		}

		internal.AscendPrefix(tree, table, prefix, func(it internal.Item) bool {
			return yield(db.KV{Key: bytes.Clone(it.Key), Value: bytes.Clone(it.Value)}, nil)
		})
	}
}

func (tx *txImpl) Writable() bool { return tx.writable }

func (tx *txImpl) Commit() error {
	if tx.done {
		return db.ErrTxClosed
	}
	tx.done = true
	if !tx.writable {
		return nil
	}

	err := tx.db.commit(tx)
	tx.release()
	if err != nil {
		return err
	}
	tx.db.counters.Commits.Inc()
	return nil
}

func (tx *txImpl) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.writable {
		tx.db.counters.Rollbacks.Inc()
	}
	tx.release()
	return nil
}

func (tx *txImpl) release() {
	tx.work = nil
	tx.writes = nil
	tx.reads = nil
	tx.scans = nil
}

// recordRead remembers a key read from the base snapshot. Keys the tx wrote
// itself are served from its own write set and do not need validation.
func (tx *txImpl) recordRead(table string, key []byte) {
	if !tx.writable {
		return
	}
	id := internal.KeyID(table, key)
	if _, own := tx.writes[id]; own {
		return
	}
	if _, seen := tx.reads[id]; !seen {
		tx.reads[id] = readRecord{table: table, key: bytes.Clone(key)}
	}
}

// validate reports a Conflict if any recorded read or written key differs
// between the base snapshot and current.
func (tx *txImpl) validate(current *internal.Tree) error {
	for _, m := range tx.writes {
		lookup := internal.Item{Table: m.Table, Key: m.Key}
		before, hadBefore := tx.base.Get(lookup)
		now, hasNow := current.Get(lookup)
		if hadBefore != hasNow || !bytes.Equal(before.Value, now.Value) {
			return db.WrapError(db.ErrCConflict, nil, "maple: key %x in table %s written concurrently", m.Key, m.Table)
		}
	}

	for _, r := range tx.reads {
		lookup := internal.Item{Table: r.table, Key: r.key}
		before, hadBefore := tx.base.Get(lookup)
		now, hasNow := current.Get(lookup)
		if hadBefore != hasNow || !bytes.Equal(before.Value, now.Value) {
			return db.WrapError(db.ErrCConflict, nil, "maple: key %x in table %s changed concurrently", r.key, r.table)
		}
	}

	for _, s := range tx.scans {
		var before []internal.Item
		internal.AscendPrefix(tx.base, s.table, s.prefix, func(it internal.Item) bool {
			before = append(before, it)
			return true
		})

		i, changed := 0, false
		internal.AscendPrefix(current, s.table, s.prefix, func(it internal.Item) bool {
			if i >= len(before) || !bytes.Equal(before[i].Key, it.Key) || !bytes.Equal(before[i].Value, it.Value) {
				changed = true
				return false
			}
			i++
			return true
		})
		if changed || i != len(before) {
			return db.WrapError(db.ErrCConflict, nil, "maple: range %x in table %s changed concurrently", s.prefix, s.table)
		}
	}
	return nil
}

func (tx *txImpl) String() string {
	return fmt.Sprintf("maple.Tx{writable: %v, writes: %d, reads: %d, scans: %d}", tx.writable, len(tx.writes), len(tx.reads), len(tx.scans))
}
