package scope

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	log = logger.GetLogger("registry")

	scopeOpens        = metrics.GetOrCreateCounter(`skv_scope_opens_total`)
	scopeOpenFailures = metrics.GetOrCreateCounter(`skv_scope_open_failures_total`)
	scopeCloses       = metrics.GetOrCreateCounter(`skv_scope_closes_total`)
)

// Option configures a Registry.
type Option func(*Registry)

// WithWriteTimeout bounds how long BeginWrite waits for the writer slot when
// the caller's context has no deadline. 0 disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Registry) { r.writeTimeout = d }
}

// Registry hands out the backend of every scope. It opens the application
// backend eagerly and every other backend on first use, keeps one handle per
// scope and closes them on request.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent first
// Resolve calls for one scope open its backend once; all callers get the
// same result.
type Registry struct {
	open         OpenFunc
	handles      *xsync.MapOf[Scope, *handle]
	writeTimeout time.Duration
	closed       atomic.Bool
}

// handle is the registry's entry for one scope. ready is closed once the open
// attempt finished; backend and err are immutable afterwards.
type handle struct {
	scope   Scope
	ready   chan struct{}
	backend db.Backend
	err     error

	mu       sync.RWMutex
	closing  bool
	inflight sync.WaitGroup
}

// NewRegistry creates a registry and opens the application backend. A failure
// to open it is returned as db.ErrScopeUnavailable.
func NewRegistry(ctx context.Context, open OpenFunc, opts ...Option) (*Registry, error) {
	r := &Registry{
		open:    open,
		handles: xsync.NewMapOf[Scope, *handle](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := r.Resolve(ctx, Application()); err != nil {
		return nil, err
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// Resolve returns the backend of s, opening it if necessary. Failures are
// reported as db.ErrScopeUnavailable wrapping the cause and are not cached:
// the next call tries again.
//
// The returned backend is owned by the registry. Its Close is a no-op; use
// Registry.Close to release the scope.
func (r *Registry) Resolve(ctx context.Context, s Scope) (db.Backend, error) {
	if r.closed.Load() {
		return nil, db.NewError(db.ErrCScopeUnavailable, "registry closed")
	}
	if s.IsZero() {
		return nil, db.NewError(db.ErrCScopeUnavailable, "zero scope")
	}

	h, loaded := r.handles.LoadOrCompute(s, func() *handle {
		return &handle{scope: s, ready: make(chan struct{})}
	})
	if !loaded {
		r.openHandle(ctx, h)
	}

	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, db.WrapError(db.ErrCUnavailable, ctx.Err(), "waiting for %s to open", s)
	}
	if h.err != nil {
		return nil, h.err
	}
	return &trackedBackend{registry: r, h: h}, nil
}

// openHandle runs the open attempt of a new handle. A failed handle is
// removed so the next Resolve retries.
func (r *Registry) openHandle(ctx context.Context, h *handle) {
	defer close(h.ready)

	backend, err := r.open(ctx, h.scope)
	if err != nil {
		scopeOpenFailures.Inc()
		log.Warningf("failed to open %s: %v", h.scope, err)
		h.err = db.WrapError(db.ErrCScopeUnavailable, err, "open %s", h.scope)
		r.forget(h)
		return
	}
	if r.closed.Load() {
		// CloseAll ran while we were opening
		_ = backend.Close()
		h.err = db.NewError(db.ErrCScopeUnavailable, "registry closed")
		r.forget(h)
		return
	}

	scopeOpens.Inc()
	log.Infof("opened %s (%s)", h.scope, backend.Info().DbType)
	h.backend = backend
}

// forget removes h from the map unless it was already replaced.
func (r *Registry) forget(h *handle) {
	r.handles.Compute(h.scope, func(old *handle, loaded bool) (*handle, bool) {
		return old, !loaded || old == h
	})
}

// Opened lists the scopes with an open backend, sorted by their string form.
func (r *Registry) Opened() []Scope {
	var out []Scope
	r.handles.Range(func(s Scope, h *handle) bool {
		select {
		case <-h.ready:
			if h.err == nil {
				out = append(out, s)
			}
		default:
		}
		return true
	})
	slices.SortFunc(out, func(a, b Scope) int {
		return cmp.Compare(a.String(), b.String())
	})
	return out
}

// Info returns the backend info of an open scope.
func (r *Registry) Info(s Scope) (db.Info, bool) {
	h, ok := r.handles.Load(s)
	if !ok {
		return db.Info{}, false
	}
	select {
	case <-h.ready:
	default:
		return db.Info{}, false
	}
	if h.err != nil {
		return db.Info{}, false
	}
	return h.backend.Info(), true
}

// --------------------------------------------------------------------------
// Closing
// --------------------------------------------------------------------------

// Close releases the backend of s: new transactions fail with
// db.ErrScopeUnavailable, transactions in flight may finish. Close waits for
// them until ctx is done; if ctx ends first, the backend is closed in the
// background once the last transaction ended and Close returns
// db.ErrUnavailable.
//
// Closing a scope that is not open is a no-op. The application scope is only
// closed by CloseAll.
func (r *Registry) Close(ctx context.Context, s Scope) error {
	if s.IsApplication() {
		return db.NewError(db.ErrCScopeUnavailable, "the application scope is closed by CloseAll")
	}
	return r.close(ctx, s)
}

func (r *Registry) close(ctx context.Context, s Scope) error {
	h, ok := r.handles.LoadAndDelete(s)
	if !ok {
		return nil
	}
	<-h.ready
	if h.err != nil {
		return nil
	}

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return r.closeBackend(h)
	case <-ctx.Done():
		log.Warningf("%s still has open transactions, closing in background", s)
		go func() {
			<-drained
			_ = r.closeBackend(h)
		}()
		return db.WrapError(db.ErrCUnavailable, ctx.Err(), "close %s", s)
	}
}

func (r *Registry) closeBackend(h *handle) error {
	scopeCloses.Inc()
	if err := h.backend.Close(); err != nil {
		log.Errorf("failed to close %s: %v", h.scope, err)
		return err
	}
	log.Infof("closed %s", h.scope)
	return nil
}

// CloseAll closes every open scope including the application scope and
// rejects further Resolve calls. It returns all close errors joined.
func (r *Registry) CloseAll(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	var scopes []Scope
	r.handles.Range(func(s Scope, _ *handle) bool {
		scopes = append(scopes, s)
		return true
	})

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, s := range scopes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.close(ctx, s); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Tracked backend (implements db.Backend)
// --------------------------------------------------------------------------

// trackedBackend counts the transactions of a handle so Close can wait for
// them.
type trackedBackend struct {
	registry *Registry
	h        *handle
}

func (b *trackedBackend) acquire() error {
	b.h.mu.RLock()
	defer b.h.mu.RUnlock()
	if b.h.closing {
		return db.NewError(db.ErrCScopeUnavailable, b.h.scope.String()+" is closed")
	}
	b.h.inflight.Add(1)
	return nil
}

func (b *trackedBackend) BeginRead(ctx context.Context) (db.Tx, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	tx, err := b.h.backend.BeginRead(ctx)
	if err != nil {
		b.h.inflight.Done()
		return nil, err
	}
	return &trackedTx{Tx: tx, done: b.h.inflight.Done}, nil
}

func (b *trackedBackend) BeginWrite(ctx context.Context) (db.Tx, error) {
	if err := b.acquire(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && b.registry.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.registry.writeTimeout)
		defer cancel()
	}
	tx, err := b.h.backend.BeginWrite(ctx)
	if err != nil {
		b.h.inflight.Done()
		return nil, err
	}
	return &trackedTx{Tx: tx, done: b.h.inflight.Done}, nil
}

func (b *trackedBackend) Info() db.Info { return b.h.backend.Info() }

// Close is a no-op, the registry owns the backend.
func (b *trackedBackend) Close() error { return nil }

// trackedTx reports the end of the transaction exactly once.
type trackedTx struct {
	db.Tx
	once sync.Once
	done func()
}

func (t *trackedTx) Commit() error {
	defer t.once.Do(t.done)
	return t.Tx.Commit()
}

func (t *trackedTx) Rollback() error {
	defer t.once.Do(t.done)
	return t.Tx.Rollback()
}
