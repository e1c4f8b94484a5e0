// Package notify delivers change events to interested parties.
//
// Stores publish one Event per changed key after a successful commit.
// Subscribers register for a scope and only receive events of that scope.
// Every subscription is backed by an unbounded lock free queue
// (util.LockFreeMPSC), so publishing never waits for a subscriber; a
// subscriber that stops reading only costs memory until it is closed.
//
// Example:
//
//	sub := hub.SubscribeContext(ctx, scope.Collection("c1"))
//	for ev := range sub.Events() {
//		fmt.Println(ev.Table, ev.Key, ev.Removed)
//	}
package notify
