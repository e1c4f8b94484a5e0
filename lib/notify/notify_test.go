package notify

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var variableRoot = segkey.New("notifytest")

func recv(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestEventsOnlyReachTheirScope(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	c1 := hub.Subscribe(scope.Collection("c1"))
	defer c1.Close()
	c2 := hub.Subscribe(scope.Collection("c2"))
	defer c2.Close()

	hub.Publish(Event{Scope: scope.Collection("c1"), Table: "variables", Key: variableRoot.Join("v1")})

	ev := recv(t, c1)
	assert.Equal(t, "variables", ev.Table)
	assert.True(t, ev.Key.Equal(variableRoot.Join("v1")))
	assert.False(t, ev.Removed)
	assertNoEvent(t, c1)
	assertNoEvent(t, c2)
}

func TestPublishOrderAndFanOut(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	s := scope.Workspace("w")
	a := hub.Subscribe(s)
	defer a.Close()
	b := hub.Subscribe(s)
	defer b.Close()
	assert.Equal(t, 2, hub.Subscribers(s))
	assert.NotEqual(t, a.ID(), b.ID())

	var events []Event
	for _, id := range []string{"1", "2", "3"} {
		events = append(events, Event{Scope: s, Table: "environments", Key: variableRoot.Join(id)})
	}
	events[2].Removed = true
	hub.Publish(events...)

	for _, sub := range []*Subscription{a, b} {
		for i, want := range events {
			got := recv(t, sub)
			assert.Equal(t, want.Key.String(), got.Key.String(), "event %d", i)
			assert.Equal(t, want.Removed, got.Removed)
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	hub.Publish(Event{Scope: scope.Application(), Table: "items", Key: variableRoot.Join("x")})
	assert.Equal(t, 0, hub.Subscribers(scope.Application()))
}

func TestPublishDoesNotBlockOnSlowSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	s := scope.Collection("slow")
	sub := hub.Subscribe(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Publish(Event{Scope: s, Table: "t", Key: variableRoot.Join("k")})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a subscriber that does not read")
	}

	sub.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel must be closed after Close")
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	s := scope.Application()
	sub := hub.Subscribe(s)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers(s))

	// no panic when publishing after the subscriber left
	hub.Publish(Event{Scope: s, Table: "t", Key: variableRoot.Join("k")})
}

func TestSubscribeContext(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := scope.Workspace("w")
	sub := hub.SubscribeContext(ctx, s)
	assert.Equal(t, 1, hub.Subscribers(s))

	cancel()
	assert.Eventually(t, func() bool { return hub.Subscribers(s) == 0 }, 2*time.Second, 5*time.Millisecond)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after the context ended")
	}
}

func TestHubCloseDeliversQueuedEvents(t *testing.T) {
	hub := NewHub()
	s := scope.Collection("c")
	sub := hub.Subscribe(s)
	defer sub.Close()

	hub.Publish(
		Event{Scope: s, Table: "t", Key: variableRoot.Join("a")},
		Event{Scope: s, Table: "t", Key: variableRoot.Join("b")},
	)
	hub.Close()

	var got []string
	for ev := range sub.Events() {
		got = append(got, ev.Key.Last())
	}
	assert.Equal(t, []string{"a", "b"}, got)

	// a subscription on a closed hub ends immediately
	late := hub.Subscribe(s)
	_, ok := <-late.Events()
	assert.False(t, ok)
	late.Close()
}
