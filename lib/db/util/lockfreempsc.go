package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded multi-producer single-consumer queue.
// Producers append to a linked list with atomic operations and never block;
// a single internal goroutine moves items onto the Recv channel.
//
// The queue ends in one of two ways:
//   - Close: no further pushes, pending items are still delivered, then Recv is closed.
//   - Abort: no further pushes, pending items are dropped, Recv is closed as soon
//     as the consumer goroutine notices. Use this when nobody reads Recv anymore.
type LockFreeMPSC[T any] struct {
	head atomic.Pointer[node[T]] // consumer side, sentinel
	tail atomic.Pointer[node[T]] // producer side

	out     chan *T
	wake    chan struct{} // capacity 1, coalesces wakeups
	aborted chan struct{}
	abort   sync.Once
	done    chan struct{}

	closed   atomic.Bool
	inflight atomic.Int64 // pushes that passed the closed check but are not linked yet
	pending  atomic.Int64
	dropped  atomic.Int64
}

// NewLockFreeMPSC creates a new queue and starts its consumer goroutine.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}
	q := &LockFreeMPSC[T]{
		out:     make(chan *T),
		wake:    make(chan struct{}, 1),
		aborted: make(chan struct{}),
		done:    make(chan struct{}),
	}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()
	return q
}

func (q *LockFreeMPSC[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Push adds an item to the queue. It returns false if value is nil or the
// queue is closed. A Push racing Close either fails or is delivered; a Push
// racing Abort either fails or is counted as dropped.
//
// Thread-safety: Push may be called from any number of goroutines.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}
	q.inflight.Add(1)
	if q.closed.Load() {
		q.inflight.Add(-1)
		return false
	}

	n := &node[T]{value: value}
	for {
		tail := q.tail.Load()
		if next := tail.next.Load(); next != nil {
			// another producer linked a node but has not advanced tail yet
			q.tail.CompareAndSwap(tail, next)
			runtime.Gosched()
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			break
		}
	}

	q.pending.Add(1)
	q.inflight.Add(-1)
	q.signal()
	return true
}

// pop unlinks the oldest item, or returns nil if the list is empty.
func (q *LockFreeMPSC[T]) pop() *T {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}
	q.head.Store(next)
	q.pending.Add(-1)

	v := next.value
	next.value = nil // next is the new sentinel
	return v
}

func (q *LockFreeMPSC[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	for {
		for v := q.pop(); v != nil; v = q.pop() {
			select {
			case q.out <- v:
			case <-q.aborted:
				q.dropped.Add(1 + q.drain())
				return
			}
		}

		// closed before inflight: a push not counted yet must see closed
		if q.closed.Load() && q.inflight.Load() == 0 && q.head.Load().next.Load() == nil {
			return
		}

		select {
		case <-q.wake:
		case <-q.aborted:
			q.dropped.Add(q.drain())
			return
		}
	}
}

// drain unlinks all remaining items, including those of pushes still in
// flight, and returns how many there were. The queue must be closed.
func (q *LockFreeMPSC[T]) drain() int64 {
	var n int64
	for {
		for q.pop() != nil {
			n++
		}
		if q.inflight.Load() == 0 && q.head.Load().next.Load() == nil {
			return n
		}
		runtime.Gosched()
	}
}

// Recv returns the channel the items are delivered on. It is closed once the
// queue is closed and drained, or aborted.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close rejects further pushes. Items already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Abort closes the queue and drops every undelivered item. It returns once the
// consumer goroutine has exited. Calling Abort more than once is safe.
func (q *LockFreeMPSC[T]) Abort() {
	q.closed.Store(true)
	q.abort.Do(func() { close(q.aborted) })
	<-q.done
}

func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items pushed but not yet handed to the consumer channel.
func (q *LockFreeMPSC[T]) Len() int {
	// pending may dip below zero while a Push is between linking and counting
	return int(max(q.pending.Load(), 0))
}

// Dropped returns the number of items discarded by Abort.
func (q *LockFreeMPSC[T]) Dropped() int64 {
	return q.dropped.Load()
}
