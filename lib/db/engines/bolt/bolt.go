package bolt

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	bolt "go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultTimeout     = time.Second // file lock timeout
	defaultMmapSize    = 16 << 20    // readers only block a writer that has to grow the mmap beyond this
	scanBatchSize      = 256
	defaultFileMode    = 0o600
	defaultDirFileMode = 0o755
)

var log = logger.GetLogger("engine/bolt")

// Options configures the bolt backend
type Options struct {
	Path            string        // Database file
	Timeout         time.Duration // How long to wait for the file lock (0 = default)
	NoSync          bool          // Skip fsync on commit
	InitialMmapSize int           // Initial mmap size in bytes (0 = default)
}

// boltImpl stores each table in its own bucket of a single bbolt file.
// bbolt allows one writer at a time; the writer slot makes waiting for it
// context aware.
type boltImpl struct {
	db       *bolt.DB
	path     string
	slot     chan struct{}
	closed   atomic.Bool
	counters *db.TxCounters
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewBoltDB opens (or creates) the bbolt file at opts.Path.
//   - lock held by another process for longer than Timeout: db.ErrUnavailable
//   - damaged file: db.ErrCorruption
//   - anything else: db.ErrIo
func NewBoltDB(opts *Options) (db.Backend, error) {
	if opts == nil || opts.Path == "" {
		return nil, db.NewError(db.ErrCIo, "bolt: path required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	mmapSize := opts.InitialMmapSize
	if mmapSize <= 0 {
		mmapSize = defaultMmapSize
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), defaultDirFileMode); err != nil {
		return nil, db.WrapError(db.ErrCIo, err, "bolt: create directory for %s", opts.Path)
	}

	handle, err := bolt.Open(opts.Path, defaultFileMode, &bolt.Options{
		Timeout:         timeout,
		NoSync:          opts.NoSync,
		InitialMmapSize: mmapSize,
		FreelistType:    bolt.FreelistMapType,
	})
	if err != nil {
		return nil, mapError(err, "bolt: open %s", opts.Path)
	}

	log.Debugf("opened %s", opts.Path)
	return &boltImpl{
		db:       handle,
		path:     opts.Path,
		slot:     make(chan struct{}, 1),
		counters: db.NewTxCounters(db.ImplBolt),
	}, nil
}

// mapError translates bbolt errors into db errors.
func mapError(err error, format string, args ...any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrTimeout):
		return db.WrapError(db.ErrCUnavailable, err, format, args...)
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return db.WrapError(db.ErrCUnavailable, err, format, args...)
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return db.WrapError(db.ErrCCorruption, err, format, args...)
	case errors.Is(err, bolt.ErrKeyRequired), errors.Is(err, bolt.ErrKeyTooLarge), errors.Is(err, bolt.ErrValueTooLarge):
		return db.WrapError(db.ErrCInvalidValue, err, format, args...)
	case errors.Is(err, bolt.ErrTxClosed):
		return db.WrapError(db.ErrCTxClosed, err, format, args...)
	case errors.Is(err, bolt.ErrTxNotWritable):
		return db.WrapError(db.ErrCReadOnly, err, format, args...)
	default:
		return db.WrapError(db.ErrCIo, err, format, args...)
	}
}

// --------------------------------------------------------------------------
// Backend Interface Methods (docu see db.Backend)
// --------------------------------------------------------------------------

func (b *boltImpl) BeginRead(ctx context.Context) (db.Tx, error) {
	if b.closed.Load() {
		return nil, db.NewError(db.ErrCUnavailable, "bolt: backend closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, db.WrapError(db.ErrCUnavailable, err, "bolt: begin read")
	}

	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, mapError(err, "bolt: begin read")
	}
	return &txImpl{backend: b, tx: tx}, nil
}

func (b *boltImpl) BeginWrite(ctx context.Context) (db.Tx, error) {
	if b.closed.Load() {
		return nil, db.NewError(db.ErrCUnavailable, "bolt: backend closed")
	}

	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, db.WrapError(db.ErrCUnavailable, ctx.Err(), "bolt: waiting for writer slot")
	}

	tx, err := b.db.Begin(true)
	if err != nil {
		<-b.slot
		return nil, mapError(err, "bolt: begin write")
	}
	return &txImpl{backend: b, tx: tx, writable: true}, nil
}

func (b *boltImpl) Info() db.Info {
	features := db.FeaturePersistent | db.FeatureSnapshotReads | db.FeatureSingleWriter |
		db.FeatureConcurrentReaders | db.FeatureMultiProcess

	info := db.Info{
		DbType:            db.ImplBolt,
		SupportedFeatures: features.Features(),
		Path:              b.path,
	}
	if b.closed.Load() {
		return info
	}

	stats := b.db.Stats()
	_ = b.db.View(func(tx *bolt.Tx) error {
		info.SizeBytes = int(tx.Size())
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			info.Tables = append(info.Tables, string(name))
			return nil
		})
	})
	info.Metadata = &struct {
		FreePages    int `json:"free_pages" yaml:"free_pages"`
		PendingPages int `json:"pending_pages" yaml:"pending_pages"`
		ReadTxTotal  int `json:"read_tx_total" yaml:"read_tx_total"`
		ReadTxOpen   int `json:"read_tx_open" yaml:"read_tx_open"`
	}{
		FreePages:    stats.FreePageN,
		PendingPages: stats.PendingPageN,
		ReadTxTotal:  stats.TxN,
		ReadTxOpen:   stats.OpenTxN,
	}
	return info
}

// Close closes the file. bbolt waits for open read transactions to finish.
func (b *boltImpl) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return mapError(b.db.Close(), "bolt: close %s", b.path)
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

type txImpl struct {
	backend  *boltImpl
	tx       *bolt.Tx
	writable bool
	done     bool
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

// lookup returns the value stored under key using a cursor, which
// distinguishes empty values from missing keys.
func lookup(bucket *bolt.Bucket, key []byte) ([]byte, bool) {
	if bucket == nil {
		return nil, false
	}
	k, v := bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	// values are only valid for the lifetime of the transaction
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (t *txImpl) Get(table string, key []byte) ([]byte, bool, error) {
	if err := t.checkOpen(false); err != nil {
		return nil, false, err
	}
	v, found := lookup(t.tx.Bucket([]byte(table)), key)
	return v, found, nil
}

func (t *txImpl) Put(table string, key, value []byte) error {
	if err := t.checkOpen(true); err != nil {
		return err
	}
	bucket, err := t.tx.CreateBucketIfNotExists([]byte(table))
	if err != nil {
		return mapError(err, "bolt: create bucket %s", table)
	}
	if value == nil {
		value = []byte{}
	}
	return mapError(bucket.Put(key, value), "bolt: put into %s", table)
}

func (t *txImpl) Remove(table string, key []byte) ([]byte, bool, error) {
	if err := t.checkOpen(true); err != nil {
		return nil, false, err
	}
	bucket := t.tx.Bucket([]byte(table))
	prev, found := lookup(bucket, key)
	if !found {
		return nil, false, nil
	}
	if err := bucket.Delete(key); err != nil {
		return nil, false, mapError(err, "bolt: delete from %s", table)
	}
	return prev, true, nil
}

// ScanPrefix reads the range in batches and re-seeks between them, so the
// caller may modify the bucket while iterating.
func (t *txImpl) ScanPrefix(table string, prefix []byte) iter.Seq2[db.KV, error] {
	return func(yield func(db.KV, error) bool) {
		if err := t.checkOpen(false); err != nil {
			yield(db.KV{}, err)
			return
		}

		seek := bytes.Clone(prefix)
		var last []byte
		for {
			bucket := t.tx.Bucket([]byte(table))
			if bucket == nil {
				return
			}

			batch := make([]db.KV, 0, scanBatchSize)
			c := bucket.Cursor()
			for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				if last != nil && bytes.Equal(k, last) {
					continue
				}
				value := make([]byte, len(v))
				copy(value, v)
				batch = append(batch, db.KV{Key: bytes.Clone(k), Value: value})
				if len(batch) == scanBatchSize {
					break
				}
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
			seek = last
		}
	}
}

func (t *txImpl) Writable() bool { return t.writable }

func (t *txImpl) Commit() error {
	if t.done {
		return db.ErrTxClosed
	}
	t.done = true

	if !t.writable {
		return mapError(t.tx.Rollback(), "bolt: release read tx")
	}

	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return mapError(err, "bolt: commit")
	}
	t.backend.counters.Commits.Inc()
	return nil
}

func (t *txImpl) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	if !t.writable {
		return mapError(t.tx.Rollback(), "bolt: release read tx")
	}

	defer t.release()
	t.backend.counters.Rollbacks.Inc()
	return mapError(t.tx.Rollback(), "bolt: rollback")
}

// release frees the writer slot.
func (t *txImpl) release() {
	<-t.backend.slot
}
