package scope

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/config"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bg = context.Background()

// countingOpener opens memory-only maple backends and counts the calls.
type countingOpener struct {
	calls atomic.Int32
	fail  func(Scope) error
	delay time.Duration
}

func (o *countingOpener) open(ctx context.Context, s Scope) (db.Backend, error) {
	o.calls.Add(1)
	time.Sleep(o.delay)
	if o.fail != nil {
		if err := o.fail(s); err != nil {
			return nil, err
		}
	}
	return maple.NewMapleDB(nil)
}

func newRegistry(t *testing.T, o *countingOpener) *Registry {
	t.Helper()
	r, err := NewRegistry(bg, o.open)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.CloseAll(bg) })
	return r
}

func put(t *testing.T, b db.Backend, key, value string) {
	t.Helper()
	require.NoError(t, db.Update(bg, b, func(tx db.Tx) error {
		return tx.Put("t", []byte(key), []byte(value))
	}))
}

func get(t *testing.T, b db.Backend, key string) (string, bool) {
	t.Helper()
	var v []byte
	var found bool
	require.NoError(t, db.View(bg, b, func(tx db.Tx) (err error) {
		v, found, err = tx.Get("t", []byte(key))
		return err
	}))
	return string(v), found
}

func TestApplicationOpenedEagerly(t *testing.T) {
	o := &countingOpener{}
	r := newRegistry(t, o)

	assert.Equal(t, int32(1), o.calls.Load())
	assert.Equal(t, []Scope{Application()}, r.Opened())

	_, err := r.Resolve(bg, Application())
	require.NoError(t, err)
	assert.Equal(t, int32(1), o.calls.Load())
}

func TestApplicationOpenFailure(t *testing.T) {
	o := &countingOpener{fail: func(Scope) error { return errors.New("disk gone") }}
	_, err := NewRegistry(bg, o.open)
	require.ErrorIs(t, err, db.ErrScopeUnavailable)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestScopeIsolation(t *testing.T) {
	r := newRegistry(t, &countingOpener{})

	w1, err := r.Resolve(bg, Workspace("w1"))
	require.NoError(t, err)
	w2, err := r.Resolve(bg, Workspace("w2"))
	require.NoError(t, err)
	c1, err := r.Resolve(bg, Collection("w1"))
	require.NoError(t, err)

	put(t, w1, "k", "from w1")

	_, found := get(t, w2, "k")
	assert.False(t, found, "workspace w2 sees data of w1")
	_, found = get(t, c1, "k")
	assert.False(t, found, "collection with the same id sees workspace data")

	again, err := r.Resolve(bg, Workspace("w1"))
	require.NoError(t, err)
	v, found := get(t, again, "k")
	assert.True(t, found)
	assert.Equal(t, "from w1", v)
}

func TestConcurrentFirstResolve(t *testing.T) {
	o := &countingOpener{delay: 20 * time.Millisecond}
	r := newRegistry(t, o)

	const n = 16
	var wg sync.WaitGroup
	backends := make([]db.Backend, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := r.Resolve(bg, Collection("shared"))
			assert.NoError(t, err)
			backends[i] = b
		}()
	}
	wg.Wait()

	// application + exactly one open for the collection
	assert.Equal(t, int32(2), o.calls.Load())

	put(t, backends[0], "k", "v")
	for _, b := range backends[1:] {
		v, found := get(t, b, "k")
		assert.True(t, found)
		assert.Equal(t, "v", v)
	}
}

func TestOpenFailureIsNotCached(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	o := &countingOpener{fail: func(s Scope) error {
		if s.Kind() == KindCollection && broken.Load() {
			return errors.New("locked by another process")
		}
		return nil
	}}
	r := newRegistry(t, o)

	_, err := r.Resolve(bg, Collection("c"))
	require.ErrorIs(t, err, db.ErrScopeUnavailable)
	assert.NotContains(t, r.Opened(), Collection("c"))

	broken.Store(false)
	b, err := r.Resolve(bg, Collection("c"))
	require.NoError(t, err)
	put(t, b, "k", "v")
	assert.Contains(t, r.Opened(), Collection("c"))
}

func TestCloseWaitsForTransactions(t *testing.T) {
	r := newRegistry(t, &countingOpener{})
	b, err := r.Resolve(bg, Workspace("w"))
	require.NoError(t, err)

	tx, err := b.BeginWrite(bg)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- r.Close(bg, Workspace("w")) }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned with an open transaction: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	// new transactions are rejected while closing
	_, err = b.BeginRead(bg)
	assert.ErrorIs(t, err, db.ErrScopeUnavailable)

	require.NoError(t, tx.Put("t", []byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the transaction ended")
	}
	assert.NotContains(t, r.Opened(), Workspace("w"))
}

func TestCloseHonoursContext(t *testing.T) {
	r := newRegistry(t, &countingOpener{})
	b, err := r.Resolve(bg, Workspace("w"))
	require.NoError(t, err)

	tx, err := b.BeginRead(bg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	err = r.Close(ctx, Workspace("w"))
	assert.ErrorIs(t, err, db.ErrUnavailable)

	require.NoError(t, tx.Rollback())
}

func TestCloseRules(t *testing.T) {
	r := newRegistry(t, &countingOpener{})

	assert.ErrorIs(t, r.Close(bg, Application()), db.ErrScopeUnavailable)
	assert.NoError(t, r.Close(bg, Workspace("never-opened")))

	require.NoError(t, r.CloseAll(bg))
	assert.Empty(t, r.Opened())

	_, err := r.Resolve(bg, Workspace("late"))
	assert.ErrorIs(t, err, db.ErrScopeUnavailable)
	assert.NoError(t, r.CloseAll(bg))
}

func TestHandedOutBackendCloseIsNoop(t *testing.T) {
	r := newRegistry(t, &countingOpener{})
	b, err := r.Resolve(bg, Collection("c"))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	put(t, b, "k", "v")
}

func TestWriteTimeout(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	r, err := NewRegistry(bg, NewOpener(cfg), WithWriteTimeout(30*time.Millisecond))
	require.NoError(t, err)
	defer r.CloseAll(bg)

	b, err := r.Resolve(bg, Workspace("w"))
	require.NoError(t, err)

	holder, err := b.BeginWrite(bg)
	require.NoError(t, err)
	defer holder.Rollback()

	start := time.Now()
	_, err = b.BeginWrite(bg)
	assert.ErrorIs(t, err, db.ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenerPerEngine(t *testing.T) {
	for _, engine := range config.Engines {
		t.Run(string(engine), func(t *testing.T) {
			cfg := config.Default()
			cfg.DataDir = t.TempDir()
			cfg.ApplicationEngine, cfg.WorkspaceEngine, cfg.CollectionEngine = engine, engine, engine

			r, err := NewRegistry(bg, NewOpener(cfg))
			require.NoError(t, err)

			c, err := r.Resolve(bg, Collection("c1"))
			require.NoError(t, err)
			assert.Equal(t, db.Implementation(engine), c.Info().DbType)
			put(t, c, "k", "persisted")
			require.NoError(t, r.CloseAll(bg))

			// a new registry on the same directory sees the data
			r, err = NewRegistry(bg, NewOpener(cfg))
			require.NoError(t, err)
			defer r.CloseAll(bg)
			c, err = r.Resolve(bg, Collection("c1"))
			require.NoError(t, err)
			v, found := get(t, c, "k")
			assert.True(t, found)
			assert.Equal(t, "persisted", v)

			_, err = r.Resolve(bg, Collection(".."))
			assert.ErrorIs(t, err, db.ErrScopeUnavailable)
		})
	}
}
