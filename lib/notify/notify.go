package notify

import (
	"context"
	"sync"

	"github.com/ValentinKolb/sKV/lib/db/util"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log = logger.GetLogger("notify")

	eventsPublished = metrics.GetOrCreateCounter(`skv_events_published_total`)
	eventsDelivered = metrics.GetOrCreateCounter(`skv_events_queued_total`)
	eventsDropped   = metrics.GetOrCreateCounter(`skv_events_dropped_total`)
)

// Event describes one logically changed key. It is produced after the
// transaction that changed the key committed and is never modified
// afterwards.
type Event struct {
	Scope   scope.Scope
	Table   string
	Key     segkey.SegKeyBuf
	Removed bool // false: the key was written
}

// --------------------------------------------------------------------------
// Hub
// --------------------------------------------------------------------------

// Hub fans out change events to the subscribers of a scope.
//
// Thread-safety: all methods are safe for concurrent use. Publish never
// blocks on slow subscribers: every subscription owns an unbounded queue.
type Hub struct {
	mu     sync.RWMutex
	subs   map[scope.Scope]map[uuid.UUID]*Subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[scope.Scope]map[uuid.UUID]*Subscription)}
}

// Subscribe registers a subscriber for all events of s. The subscription
// must be closed when no longer needed; see SubscribeContext for a variant
// that closes itself.
func (h *Hub) Subscribe(s scope.Scope) *Subscription {
	sub := &Subscription{
		id:    uuid.New(),
		scope: s,
		hub:   h,
		queue: util.NewLockFreeMPSC[Event](),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.queue.Close()
		return sub
	}
	bucket, ok := h.subs[s]
	if !ok {
		bucket = make(map[uuid.UUID]*Subscription)
		h.subs[s] = bucket
	}
	bucket[sub.id] = sub
	log.Debugf("subscribed %s to %s", sub.id, s)
	return sub
}

// SubscribeContext is Subscribe with automatic release once ctx is done.
func (h *Hub) SubscribeContext(ctx context.Context, s scope.Scope) *Subscription {
	sub := h.Subscribe(s)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// Publish queues every event for the subscribers of its scope. Events
// without subscribers are discarded.
func (h *Hub) Publish(events ...Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for _, ev := range events {
		eventsPublished.Inc()
		for _, sub := range h.subs[ev.Scope] {
			e := ev
			if sub.queue.Push(&e) {
				eventsDelivered.Inc()
			} else {
				eventsDropped.Inc()
			}
		}
	}
}

// Subscribers returns the number of open subscriptions of s.
func (h *Hub) Subscribers(s scope.Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[s])
}

// Close ends all subscriptions. Events queued before Close are still
// delivered, then every Events channel is closed. Publish and Subscribe
// keep working but have no effect.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, bucket := range h.subs {
		for _, sub := range bucket {
			sub.queue.Close()
		}
	}
	h.subs = nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := h.subs[sub.scope]
	delete(bucket, sub.id)
	if len(bucket) == 0 {
		delete(h.subs, sub.scope)
	}
}

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

// Subscription receives the events of one scope in publish order.
type Subscription struct {
	id    uuid.UUID
	scope scope.Scope
	hub   *Hub
	queue *util.LockFreeMPSC[Event]
	done  chan struct{}
	once  sync.Once
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Scope is the subscribed scope.
func (s *Subscription) Scope() scope.Scope { return s.scope }

// Events returns the channel of events. It is closed by Close or Hub.Close.
func (s *Subscription) Events() <-chan *Event {
	return s.queue.Recv()
}

// Pending returns the number of queued events not yet received.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Close unsubscribes and drops undelivered events. Calling Close more than
// once is safe.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.queue.Abort()
		if n := s.queue.Dropped(); n > 0 {
			eventsDropped.Add(int(n))
			log.Debugf("dropped %d undelivered events of %s", n, s.id)
		}
		close(s.done)
		log.Debugf("unsubscribed %s from %s", s.id, s.scope)
	})
}
