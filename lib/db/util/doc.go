// Package util provides small building blocks shared by the storage engines
// and the notification hub.
//
// The package contains:
//   - lockfreempsc: an unbounded lock-free Multi-Producer Single-Consumer queue.
//     Producers never block; the consumer reads from a channel. Abort tears the
//     queue down without a reader, which the notification hub relies on when a
//     subscriber goes away.
//   - statistics: a SizeHistogram used by engines to estimate stored bytes
//     for db.Info without scanning their data.
package util
