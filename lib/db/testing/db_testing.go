package testing

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/segkey"
)

// BackendFactory opens a backend whose files live in dir. Opening the same dir
// again must observe everything committed before Close if the backend
// advertises db.FeaturePersistent.
type BackendFactory func(dir string) (db.Backend, error)

// RunBackendTests runs the conformance suite for a db.Backend implementation.
func RunBackendTests(t *testing.T, name string, factory BackendFactory) {
	open := func(t *testing.T) db.Backend {
		t.Helper()
		backend, err := factory(t.TempDir())
		if err != nil {
			t.Fatalf("Failed to open backend: %v", err)
		}
		return backend
	}

	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, open(t))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, open(t))
		})

		t.Run("TableIsolation", func(t *testing.T) {
			testTableIsolation(t, open(t))
		})

		t.Run("PrefixScan", func(t *testing.T) {
			testPrefixScan(t, open(t))
		})

		t.Run("ScanEarlyStop", func(t *testing.T) {
			testScanEarlyStop(t, open(t))
		})

		t.Run("WriteDuringScan", func(t *testing.T) {
			testWriteDuringScan(t, open(t))
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, open(t))
		})

		t.Run("ExplicitRollback", func(t *testing.T) {
			testExplicitRollback(t, open(t))
		})

		t.Run("DeferredRollback", func(t *testing.T) {
			testDeferredRollback(t, open(t))
		})

		t.Run("UpdateHelper", func(t *testing.T) {
			testUpdateHelper(t, open(t))
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, open(t))
		})

		t.Run("ClosedTx", func(t *testing.T) {
			testClosedTx(t, open(t))
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, open(t))
		})

		t.Run("WriterSlotTimeout", func(t *testing.T) {
			testWriterSlotTimeout(t, open(t))
		})

		t.Run("ConcurrentIncrements", func(t *testing.T) {
			testConcurrentIncrements(t, open(t))
		})

		t.Run("ConcurrentBlindWrites", func(t *testing.T) {
			testConcurrentBlindWrites(t, open(t))
		})

		t.Run("Persistence", func(t *testing.T) {
			testPersistence(t, factory)
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, open(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosedBackend(t, open(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const testTable = "conformance"

var (
	entryRoot = segkey.New("entry")
	bgCtx     = context.Background()
)

// Checks if the backend supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, backend db.Backend, feature db.Feature) {
	for _, f := range backend.Info().SupportedFeatures {
		feature &^= f
	}
	if feature != 0 {
		t.Skipf("backend does not support %s", feature)
	}
}

func mustPut(t testing.TB, backend db.Backend, table string, kvs ...[]byte) {
	t.Helper()
	err := db.Update(bgCtx, backend, func(tx db.Tx) error {
		for i := 0; i+1 < len(kvs); i += 2 {
			if err := tx.Put(table, kvs[i], kvs[i+1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}

func mustGet(t testing.TB, backend db.Backend, table string, key []byte) ([]byte, bool) {
	t.Helper()
	var (
		value []byte
		found bool
	)
	err := db.View(bgCtx, backend, func(tx db.Tx) (err error) {
		value, found, err = tx.Get(table, key)
		return err
	})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return value, found
}

func scanKeys(t testing.TB, tx db.Tx, table string, prefix []byte) []string {
	t.Helper()
	var keys []string
	for kv, err := range tx.ScanPrefix(table, prefix) {
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		key, err := segkey.Decode(kv.Key)
		if err != nil {
			keys = append(keys, string(kv.Key))
			continue
		}
		keys = append(keys, key.String())
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, backend db.Backend) {
	defer backend.Close()

	key := entryRoot.Join("1").Join("order").Bytes()
	mustPut(t, backend, testTable, key, []byte("value1"))

	result, found := mustGet(t, backend, testTable, key)
	if !found || !bytes.Equal(result, []byte("value1")) {
		t.Errorf("Expected value1, got %q (found=%v)", result, found)
	}

	mustPut(t, backend, testTable, key, []byte("value2"))
	result, _ = mustGet(t, backend, testTable, key)
	if !bytes.Equal(result, []byte("value2")) {
		t.Errorf("Expected value2 after overwrite, got %q", result)
	}

	// returned slices belong to the caller
	result[0] = 'X'
	again, _ := mustGet(t, backend, testTable, key)
	if !bytes.Equal(again, []byte("value2")) {
		t.Errorf("Modifying a returned value must not change the stored value, got %q", again)
	}

	if _, found := mustGet(t, backend, testTable, []byte("missing")); found {
		t.Errorf("Expected missing key to return found=false")
	}
	if _, found := mustGet(t, backend, "no_such_table", key); found {
		t.Errorf("Expected missing table to behave like a missing key")
	}

	// empty values are values
	mustPut(t, backend, testTable, []byte("empty"), []byte{})
	if v, found := mustGet(t, backend, testTable, []byte("empty")); !found || len(v) != 0 {
		t.Errorf("Expected empty value to be found, got %q (found=%v)", v, found)
	}
}

func testRemove(t *testing.T, backend db.Backend) {
	defer backend.Close()

	key := []byte("to-remove")
	mustPut(t, backend, testTable, key, []byte("old"))

	err := db.Update(bgCtx, backend, func(tx db.Tx) error {
		prev, found, err := tx.Remove(testTable, key)
		if err != nil {
			return err
		}
		if !found || !bytes.Equal(prev, []byte("old")) {
			t.Errorf("Expected previous value old, got %q (found=%v)", prev, found)
		}

		prev, found, err = tx.Remove(testTable, key)
		if err != nil {
			return err
		}
		if found || prev != nil {
			t.Errorf("Second remove must report not found, got %q", prev)
		}

		_, found, err = tx.Remove("no_such_table", key)
		if found {
			t.Errorf("Remove on missing table must report not found")
		}
		return err
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, found := mustGet(t, backend, testTable, key); found {
		t.Errorf("Expected key to be removed")
	}
}

func testTableIsolation(t *testing.T, backend db.Backend) {
	defer backend.Close()

	key := []byte("shared-key")
	mustPut(t, backend, "table_a", key, []byte("a"))
	mustPut(t, backend, "table_b", key, []byte("b"))

	if v, _ := mustGet(t, backend, "table_a", key); !bytes.Equal(v, []byte("a")) {
		t.Errorf("table_a: expected a, got %q", v)
	}
	if v, _ := mustGet(t, backend, "table_b", key); !bytes.Equal(v, []byte("b")) {
		t.Errorf("table_b: expected b, got %q", v)
	}

	err := db.View(bgCtx, backend, func(tx db.Tx) error {
		if keys := scanKeys(t, tx, "table_a", nil); len(keys) != 1 {
			t.Errorf("Expected exactly one key in table_a, got %v", keys)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testPrefixScan(t *testing.T, backend db.Backend) {
	defer backend.Close()

	other := segkey.New("entryx")
	var kvs [][]byte
	for _, id := range []string{"2", "10", "1"} {
		for _, field := range []string{"order", "expanded"} {
			kvs = append(kvs, entryRoot.Join(id).Join(field).Bytes(), []byte(id+field))
		}
	}
	kvs = append(kvs, other.Join("1").Bytes(), []byte("foreign"))
	mustPut(t, backend, testTable, kvs...)

	err := db.View(bgCtx, backend, func(tx db.Tx) error {
		got := scanKeys(t, tx, testTable, entryRoot.Join("1").Prefix())
		want := []string{"entry/1/expanded", "entry/1/order"}
		if !slices.Equal(got, want) {
			t.Errorf("Scan entry/1: expected %v, got %v", want, got)
		}

		got = scanKeys(t, tx, testTable, entryRoot.Buf().Prefix())
		want = []string{
			"entry/1/expanded", "entry/1/order",
			"entry/10/expanded", "entry/10/order",
			"entry/2/expanded", "entry/2/order",
		}
		if !slices.Equal(got, want) {
			t.Errorf("Scan entry: expected %v, got %v", want, got)
		}

		if got := scanKeys(t, tx, testTable, entryRoot.Join("3").Prefix()); len(got) != 0 {
			t.Errorf("Expected empty scan, got %v", got)
		}
		// an empty prefix matches the whole table
		if got := scanKeys(t, tx, testTable, nil); len(got) != 7 || got[6] != "entryx/1" {
			t.Errorf("Scan with empty prefix: expected 7 keys ending in entryx/1, got %v", got)
		}
		if got := scanKeys(t, tx, "no_such_table", nil); len(got) != 0 {
			t.Errorf("Expected empty scan on missing table, got %v", got)
		}

		// values arrive with their keys
		for kv, err := range tx.ScanPrefix(testTable, entryRoot.Join("10").Prefix()) {
			if err != nil {
				return err
			}
			key, _ := segkey.Decode(kv.Key)
			if string(kv.Value) != key.Segment(1)+key.Last() {
				t.Errorf("Value %q does not belong to key %s", kv.Value, key)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testScanEarlyStop(t *testing.T, backend db.Backend) {
	defer backend.Close()

	var kvs [][]byte
	for i := 0; i < 600; i++ {
		kvs = append(kvs, entryRoot.Join(fmt.Sprintf("%04d", i)).Bytes(), []byte("v"))
	}
	mustPut(t, backend, testTable, kvs...)

	err := db.View(bgCtx, backend, func(tx db.Tx) error {
		n := 0
		for _, err := range tx.ScanPrefix(testTable, entryRoot.Buf().Prefix()) {
			if err != nil {
				return err
			}
			n++
			if n == 3 {
				break
			}
		}
		if n != 3 {
			t.Errorf("Expected to stop after 3 items, got %d", n)
		}

		// the transaction is still usable after breaking out of a scan
		if got := scanKeys(t, tx, testTable, entryRoot.Buf().Prefix()); len(got) != 600 {
			t.Errorf("Expected 600 keys, got %d", len(got))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testWriteDuringScan(t *testing.T, backend db.Backend) {
	defer backend.Close()

	var kvs [][]byte
	for i := 0; i < 300; i++ {
		kvs = append(kvs, entryRoot.Join(fmt.Sprintf("%03d", i)).Join("order").Bytes(), []byte("1"))
	}
	mustPut(t, backend, testTable, kvs...)

	// rewrite every visited entry and add a sibling while iterating
	err := db.Update(bgCtx, backend, func(tx db.Tx) error {
		for kv, err := range tx.ScanPrefix(testTable, entryRoot.Buf().Prefix()) {
			if err != nil {
				return err
			}
			if err := tx.Put(testTable, kv.Key, []byte("2")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = db.View(bgCtx, backend, func(tx db.Tx) error {
		n := 0
		for kv, err := range tx.ScanPrefix(testTable, entryRoot.Buf().Prefix()) {
			if err != nil {
				return err
			}
			if string(kv.Value) != "2" {
				t.Errorf("Expected rewritten value, got %q", kv.Value)
			}
			n++
		}
		if n != 300 {
			t.Errorf("Expected 300 entries, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testReadYourWrites(t *testing.T, backend db.Backend) {
	defer backend.Close()

	tx, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	defer tx.Rollback()

	if !tx.Writable() {
		t.Errorf("Write transaction must report Writable")
	}

	k1 := entryRoot.Join("1").Join("order").Bytes()
	k2 := entryRoot.Join("1").Join("expanded").Bytes()
	if err := tx.Put(testTable, k1, []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Put(testTable, k2, []byte("true")); err != nil {
		t.Fatal(err)
	}

	if v, found, err := tx.Get(testTable, k1); err != nil || !found || string(v) != "1" {
		t.Errorf("Expected own write to be visible, got %q %v %v", v, found, err)
	}
	if keys := scanKeys(t, tx, testTable, entryRoot.Join("1").Prefix()); len(keys) != 2 {
		t.Errorf("Expected own writes in scan, got %v", keys)
	}

	if _, _, err := tx.Remove(testTable, k2); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := tx.Get(testTable, k2); found {
		t.Errorf("Expected own remove to be visible")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, found := mustGet(t, backend, testTable, k1); !found {
		t.Errorf("Expected committed key")
	}
}

func testExplicitRollback(t *testing.T, backend db.Backend) {
	defer backend.Close()

	mustPut(t, backend, testTable, []byte("kept"), []byte("before"))

	tx, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	_ = tx.Put(testTable, []byte("kept"), []byte("after"))
	_ = tx.Put(testTable, []byte("new"), []byte("value"))
	_, _, _ = tx.Remove(testTable, []byte("kept"))
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	// idempotent
	if err := tx.Rollback(); err != nil {
		t.Errorf("Second rollback must be a no-op, got %v", err)
	}

	if v, _ := mustGet(t, backend, testTable, []byte("kept")); string(v) != "before" {
		t.Errorf("Expected rolled back value before, got %q", v)
	}
	if _, found := mustGet(t, backend, testTable, []byte("new")); found {
		t.Errorf("Expected rolled back insert to be absent")
	}
}

func testDeferredRollback(t *testing.T, backend db.Backend) {
	defer backend.Close()

	errEarly := errors.New("early return")
	unitOfWork := func() error {
		tx, err := backend.BeginWrite(bgCtx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := tx.Put(testTable, []byte("abandoned"), []byte("x")); err != nil {
			return err
		}
		return errEarly
	}

	if err := unitOfWork(); !errors.Is(err, errEarly) {
		t.Fatalf("Unexpected error %v", err)
	}
	if _, found := mustGet(t, backend, testTable, []byte("abandoned")); found {
		t.Errorf("Abandoned transaction must have no effect")
	}

	// the writer slot must be free again
	ctx, cancel := context.WithTimeout(bgCtx, 2*time.Second)
	defer cancel()
	if err := db.Update(ctx, backend, func(tx db.Tx) error { return nil }); err != nil {
		t.Errorf("Expected writer slot to be released, got %v", err)
	}
}

func testUpdateHelper(t *testing.T, backend db.Backend) {
	defer backend.Close()

	boom := errors.New("boom")
	err := db.Update(bgCtx, backend, func(tx db.Tx) error {
		if err := tx.Put(testTable, []byte("a"), []byte("1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected fn error to be returned, got %v", err)
	}
	if _, found := mustGet(t, backend, testTable, []byte("a")); found {
		t.Errorf("Failed update must not be visible")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("Expected panic to propagate")
			}
		}()
		_ = db.Update(bgCtx, backend, func(tx db.Tx) error {
			_ = tx.Put(testTable, []byte("b"), []byte("1"))
			panic("boom")
		})
	}()
	if _, found := mustGet(t, backend, testTable, []byte("b")); found {
		t.Errorf("Panicking update must not be visible")
	}
}

func testSnapshotIsolation(t *testing.T, backend db.Backend) {
	defer backend.Close()

	key := []byte("isolated")
	mustPut(t, backend, testTable, key, []byte("v1"), []byte("other"), []byte("o1"))

	reader, err := backend.BeginRead(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Rollback()

	if reader.Writable() {
		t.Errorf("Read transaction must not report Writable")
	}
	if v, _, _ := reader.Get(testTable, []byte("other")); string(v) != "o1" {
		t.Errorf("Expected o1, got %q", v)
	}

	writer, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	_ = writer.Put(testTable, key, []byte("v2"))
	_ = writer.Put(testTable, []byte("added"), []byte("x"))

	// uncommitted writes are invisible
	if v, _, _ := reader.Get(testTable, key); string(v) != "v1" {
		t.Errorf("Reader saw uncommitted write: %q", v)
	}

	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// the reader keeps its snapshot after the commit
	if v, _, _ := reader.Get(testTable, key); string(v) != "v1" {
		t.Errorf("Reader lost its snapshot: %q", v)
	}
	if _, found, _ := reader.Get(testTable, []byte("added")); found {
		t.Errorf("Reader saw a key committed after it started")
	}
	if err := reader.Commit(); err != nil {
		t.Errorf("Commit of read tx failed: %v", err)
	}

	// a new reader sees the commit
	if v, _ := mustGet(t, backend, testTable, key); string(v) != "v2" {
		t.Errorf("New reader must see v2, got %q", v)
	}
}

func testClosedTx(t *testing.T, backend db.Backend) {
	defer backend.Close()

	tx, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback after commit must be a no-op, got %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, db.ErrTxClosed) {
		t.Errorf("Expected TxClosed on second commit, got %v", err)
	}
	if err := tx.Put(testTable, []byte("k"), []byte("v")); !errors.Is(err, db.ErrTxClosed) {
		t.Errorf("Expected TxClosed on put, got %v", err)
	}
	if _, _, err := tx.Get(testTable, []byte("k")); !errors.Is(err, db.ErrTxClosed) {
		t.Errorf("Expected TxClosed on get, got %v", err)
	}
	for _, err := range tx.ScanPrefix(testTable, nil) {
		if !errors.Is(err, db.ErrTxClosed) {
			t.Errorf("Expected TxClosed on scan, got %v", err)
		}
	}

	rtx, err := backend.BeginRead(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	_ = rtx.Rollback()
	if _, _, err := rtx.Get(testTable, []byte("k")); !errors.Is(err, db.ErrTxClosed) {
		t.Errorf("Expected TxClosed on read tx get, got %v", err)
	}
}

func testReadOnly(t *testing.T, backend db.Backend) {
	defer backend.Close()

	tx, err := backend.BeginRead(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	if err := tx.Put(testTable, []byte("k"), []byte("v")); !errors.Is(err, db.ErrReadOnly) {
		t.Errorf("Expected ReadOnly on put, got %v", err)
	}
	if _, _, err := tx.Remove(testTable, []byte("k")); !errors.Is(err, db.ErrReadOnly) {
		t.Errorf("Expected ReadOnly on remove, got %v", err)
	}
}

func testWriterSlotTimeout(t *testing.T, backend db.Backend) {
	defer backend.Close()
	requireFeature(t, backend, db.FeatureSingleWriter)

	holder, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatal(err)
	}

	// readers are not blocked by the writer
	reader, err := backend.BeginRead(bgCtx)
	if err != nil {
		t.Errorf("BeginRead must not wait for writers, got %v", err)
	} else {
		_ = reader.Rollback()
	}

	ctx, cancel := context.WithTimeout(bgCtx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := backend.BeginWrite(ctx); !errors.Is(err, db.ErrUnavailable) {
		t.Errorf("Expected Unavailable while the writer slot is taken, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("BeginWrite did not honour the context deadline")
	}
	if !db.IsRetryable(db.ErrUnavailable) {
		t.Errorf("Unavailable must be retryable")
	}

	_ = holder.Rollback()
	tx, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatalf("Expected writer slot after rollback, got %v", err)
	}
	_ = tx.Rollback()
}

func testConcurrentIncrements(t *testing.T, backend db.Backend) {
	defer backend.Close()

	const workers = 8
	const increments = 25
	key := []byte("counter")

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				err := db.UpdateRetry(bgCtx, backend, 1000, func(tx db.Tx) error {
					v, _, err := tx.Get(testTable, key)
					if err != nil {
						return err
					}
					var n uint64
					if len(v) == 8 {
						n = binary.BigEndian.Uint64(v)
					}
					return tx.Put(testTable, key, binary.BigEndian.AppendUint64(nil, n+1))
				})
				if err != nil {
					t.Errorf("Increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, _ := mustGet(t, backend, testTable, key)
	if len(v) != 8 || binary.BigEndian.Uint64(v) != workers*increments {
		t.Errorf("Expected counter %d, got %v", workers*increments, v)
	}
}

// Two transactions write the same key without reading it. A backend either
// serializes them (the later one wins) or fails the later commit with
// Conflict (the earlier one wins). Losing a write silently is never allowed.
func testConcurrentBlindWrites(t *testing.T, backend db.Backend) {
	defer backend.Close()
	key := []byte("blind")

	first, err := backend.BeginWrite(bgCtx)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Rollback()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(bgCtx, 5*time.Second)
		defer cancel()
		close(started)
		second, err := backend.BeginWrite(ctx)
		if err != nil {
			result <- err
			return
		}
		defer second.Rollback()
		if err := second.Put(testTable, key, []byte("second")); err != nil {
			result <- err
			return
		}
		result <- second.Commit()
	}()

	<-started
	if err := first.Put(testTable, key, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := first.Commit(); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}

	var secondErr error
	select {
	case secondErr = <-result:
	case <-time.After(10 * time.Second):
		t.Fatal("Second writer did not finish")
	}

	v, found := mustGet(t, backend, testTable, key)
	switch {
	case secondErr == nil:
		if !found || string(v) != "second" {
			t.Errorf("Expected the serialized second write to win, got %q", v)
		}
	case errors.Is(secondErr, db.ErrConflict):
		if !found || string(v) != "first" {
			t.Errorf("Expected the first write after a conflict, got %q", v)
		}
	default:
		t.Errorf("Expected nil or Conflict for the second writer, got %v", secondErr)
	}
}

func testPersistence(t *testing.T, factory BackendFactory) {
	dir := t.TempDir()
	backend, err := factory(dir)
	if err != nil {
		t.Fatal(err)
	}
	requireFeature(t, backend, db.FeaturePersistent)

	mustPut(t, backend, testTable, []byte("durable"), []byte("yes"))
	mustPut(t, backend, "second", []byte("k"), []byte("v"))
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := factory(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if v, found := mustGet(t, reopened, testTable, []byte("durable")); !found || string(v) != "yes" {
		t.Errorf("Expected durable value after reopen, got %q", v)
	}
	if v, found := mustGet(t, reopened, "second", []byte("k")); !found || string(v) != "v" {
		t.Errorf("Expected second table after reopen, got %q", v)
	}
}

func testInfo(t *testing.T, backend db.Backend) {
	defer backend.Close()

	mustPut(t, backend, "info_table", []byte("k"), []byte("some value"))
	info := backend.Info()

	if info.DbType == "" {
		t.Errorf("Expected implementation id")
	}
	if !slices.Contains(info.Tables, "info_table") {
		t.Errorf("Expected info_table in %v", info.Tables)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("Expected positive size estimate, got %d", info.SizeBytes)
	}
	if len(info.SupportedFeatures) == 0 {
		t.Errorf("Expected at least one feature")
	}
}

func testClosedBackend(t *testing.T, backend db.Backend) {
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := backend.BeginRead(bgCtx); !errors.Is(err, db.ErrUnavailable) {
		t.Errorf("Expected Unavailable after close, got %v", err)
	}
	if _, err := backend.BeginWrite(bgCtx); !errors.Is(err, db.ErrUnavailable) {
		t.Errorf("Expected Unavailable after close, got %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("Second close must be a no-op, got %v", err)
	}
}
