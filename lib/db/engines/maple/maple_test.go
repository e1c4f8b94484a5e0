package maple

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
)

var ctx = context.Background()

func newMemory(t *testing.T) db.Backend {
	t.Helper()
	backend, err := NewMapleDB(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

// Two writers read the same key; the second committer must fail.
func TestConflictOnOverlappingRead(t *testing.T) {
	backend := newMemory(t)
	if err := db.Update(ctx, backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("k"), []byte("0"))
	}); err != nil {
		t.Fatal(err)
	}

	a, _ := backend.BeginWrite(ctx)
	b, _ := backend.BeginWrite(ctx)
	defer a.Rollback()
	defer b.Rollback()

	_, _, _ = a.Get("t", []byte("k"))
	_, _, _ = b.Get("t", []byte("k"))
	_ = a.Put("t", []byte("k"), []byte("a"))
	_ = b.Put("t", []byte("k"), []byte("b"))

	if err := a.Commit(); err != nil {
		t.Fatalf("First committer must win, got %v", err)
	}
	err := b.Commit()
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected Conflict, got %v", err)
	}
	if !db.IsRetryable(err) {
		t.Errorf("Conflict must be retryable")
	}

	if err := db.View(ctx, backend, func(tx db.Tx) error {
		v, _, err := tx.Get("t", []byte("k"))
		if string(v) != "a" {
			t.Errorf("Expected a, got %q", v)
		}
		return err
	}); err != nil {
		t.Fatal(err)
	}
}

// A scanned range that gains a key conflicts, a disjoint write does not.
func TestConflictOnScannedRange(t *testing.T) {
	backend := newMemory(t)

	scanner, _ := backend.BeginWrite(ctx)
	defer scanner.Rollback()
	for range scanner.ScanPrefix("t", []byte("p/")) {
	}
	_ = scanner.Put("t", []byte("summary"), []byte("0 items"))

	if err := db.Update(ctx, backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("other"), []byte("x"))
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.Update(ctx, backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("p/1"), []byte("x"))
	}); err != nil {
		t.Fatal(err)
	}

	if err := scanner.Commit(); !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected Conflict, got %v", err)
	}
}

// Two writers put the same key without reading it; the second committer must
// fail instead of silently overwriting the first.
func TestConflictOnOverlappingBlindWrite(t *testing.T) {
	backend := newMemory(t)

	a, _ := backend.BeginWrite(ctx)
	b, _ := backend.BeginWrite(ctx)
	defer a.Rollback()
	defer b.Rollback()

	_ = a.Put("t", []byte("k"), []byte("a"))
	_ = b.Put("t", []byte("k"), []byte("b"))

	if err := a.Commit(); err != nil {
		t.Fatalf("First committer must win, got %v", err)
	}
	if err := b.Commit(); !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Expected Conflict, got %v", err)
	}

	if err := db.View(ctx, backend, func(tx db.Tx) error {
		v, _, err := tx.Get("t", []byte("k"))
		if string(v) != "a" {
			t.Errorf("Expected a, got %q", v)
		}
		return err
	}); err != nil {
		t.Fatal(err)
	}
}

func TestBlindWritesDoNotConflict(t *testing.T) {
	backend := newMemory(t)

	a, _ := backend.BeginWrite(ctx)
	b, _ := backend.BeginWrite(ctx)
	_ = a.Put("t", []byte("x"), []byte("a"))
	_ = b.Put("t", []byte("y"), []byte("b"))

	if err := a.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Disjoint blind writes must not conflict, got %v", err)
	}
}

func TestCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maple.snap")

	backend, err := NewMapleDB(&Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Update(ctx, backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("k"), []byte("value"))
	}); err != nil {
		t.Fatal(err)
	}
	if err := backend.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-6] ^= 0xff // flip a value byte, the checksum no longer matches
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewMapleDB(&Options{Path: path}); !errors.Is(err, db.ErrCorruption) {
		t.Fatalf("Expected Corruption, got %v", err)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMapleDB(&Options{Path: path}); !errors.Is(err, db.ErrCorruption) {
		t.Fatalf("Expected Corruption for garbage file, got %v", err)
	}
}

func TestInfoTracksSizes(t *testing.T) {
	backend := newMemory(t)
	_ = db.Update(ctx, backend, func(tx db.Tx) error {
		_ = tx.Put("a", []byte("1"), make([]byte, 100))
		return tx.Put("b", []byte("1"), make([]byte, 100))
	})
	_ = db.Update(ctx, backend, func(tx db.Tx) error {
		_, _, err := tx.Remove("a", []byte("1"))
		return err
	})

	info := backend.Info()
	if len(info.Tables) != 1 || info.Tables[0] != "b" {
		t.Errorf("Expected only table b, got %v", info.Tables)
	}
	if info.SizeBytes != 100+entryOverhead {
		t.Errorf("Expected size %d, got %d", 100+entryOverhead, info.SizeBytes)
	}
	for _, f := range info.SupportedFeatures {
		if f == db.FeaturePersistent {
			t.Errorf("Memory only backend must not report persistence")
		}
	}
}
