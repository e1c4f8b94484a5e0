package db_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple"
)

func newBackend(t *testing.T) db.Backend {
	t.Helper()
	backend, err := maple.NewMapleDB(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func read(t *testing.T, backend db.Backend, key string) (string, bool) {
	t.Helper()
	var (
		v     []byte
		found bool
	)
	err := db.View(context.Background(), backend, func(tx db.Tx) (err error) {
		v, found, err = tx.Get("t", []byte(key))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(v), found
}

func TestUpdateCommits(t *testing.T) {
	backend := newBackend(t)

	err := db.Update(context.Background(), backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, found := read(t, backend, "k"); !found || v != "v" {
		t.Errorf("Expected committed value, got %q (found=%v)", v, found)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	backend := newBackend(t)
	boom := errors.New("boom")

	err := db.Update(context.Background(), backend, func(tx db.Tx) error {
		if err := tx.Put("t", []byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected fn error to be returned, got %v", err)
	}
	if _, found := read(t, backend, "k"); found {
		t.Errorf("Expected no value after failed update")
	}
}

func TestUpdateRollsBackOnPanic(t *testing.T) {
	backend := newBackend(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("Expected the panic to be re-raised")
			}
		}()
		_ = db.Update(context.Background(), backend, func(tx db.Tx) error {
			_ = tx.Put("t", []byte("k"), []byte("v"))
			panic("inside update")
		})
	}()

	if _, found := read(t, backend, "k"); found {
		t.Errorf("Expected no value after panic")
	}
	// the writer is free again
	if err := db.Update(context.Background(), backend, func(tx db.Tx) error { return nil }); err != nil {
		t.Errorf("Expected a new update to succeed, got %v", err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	backend := newBackend(t)

	err := db.View(context.Background(), backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("k"), []byte("v"))
	})
	if !errors.Is(err, db.ErrReadOnly) {
		t.Errorf("Expected ReadOnly, got %v", err)
	}
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	err := db.RetryOnConflict(ctx, 5, func(context.Context) error {
		if calls.Add(1) < 3 {
			return db.ErrConflict
		}
		return nil
	})
	if err != nil || calls.Load() != 3 {
		t.Errorf("Expected success on the third attempt, got %v after %d calls", err, calls.Load())
	}

	calls.Store(0)
	err = db.RetryOnConflict(ctx, 5, func(context.Context) error {
		calls.Add(1)
		return db.ErrIo
	})
	if !errors.Is(err, db.ErrIo) || calls.Load() != 1 {
		t.Errorf("Expected fatal errors not to be retried, got %v after %d calls", err, calls.Load())
	}

	calls.Store(0)
	err = db.RetryOnConflict(ctx, 3, func(context.Context) error {
		calls.Add(1)
		return db.ErrConflict
	})
	if !errors.Is(err, db.ErrConflict) || calls.Load() != 3 {
		t.Errorf("Expected the last conflict after 3 attempts, got %v after %d calls", err, calls.Load())
	}
}

func TestRetryOnConflictHonoursContext(t *testing.T) {
	old := db.RetryBackoff
	db.RetryBackoff = time.Second
	defer func() { db.RetryBackoff = old }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := db.RetryOnConflict(ctx, 10, func(context.Context) error { return db.ErrConflict })
	if !errors.Is(err, db.ErrUnavailable) {
		t.Errorf("Expected Unavailable once the context is done, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Retry loop ignored the context")
	}
}

func TestUpdateRetryResolvesConflicts(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	if err := db.Update(ctx, backend, func(tx db.Tx) error {
		return tx.Put("t", []byte("k"), []byte("0"))
	}); err != nil {
		t.Fatal(err)
	}

	attempts := 0
	err := db.UpdateRetry(ctx, backend, 3, func(tx db.Tx) error {
		attempts++
		if _, _, err := tx.Get("t", []byte("k")); err != nil {
			return err
		}
		if attempts == 1 {
			// a concurrent writer commits between our read and our commit
			if err := db.Update(ctx, backend, func(other db.Tx) error {
				return other.Put("t", []byte("k"), []byte("other"))
			}); err != nil {
				return err
			}
		}
		return tx.Put("t", []byte("k"), []byte("mine"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Errorf("Expected exactly one retry, got %d attempts", attempts)
	}
	if v, _ := read(t, backend, "k"); v != "mine" {
		t.Errorf("Expected retried write to win, got %q", v)
	}
}
