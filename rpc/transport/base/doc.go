// Package base provides the protocol independent core of the connection layer
// between a slave and its master: frame handling, the channel pool of the
// client and the request loop of the server. Protocol specific behaviour
// (dialing, listening, socket options) is injected with the connectors of the
// transport package.
//
// The package focuses on:
//   - Length prefixed framing ([4 byte big endian length][payload])
//   - A bounded pool of channels with session affine leases
//   - Reuse of connections and buffers
//
// Key Components:
//
//   - Channel: One connection with a reusable write buffer and read buffer.
//     Call sends the write buffer as one frame and blocks for exactly one
//     response frame, bounded by a timeout and the caller's context.
//
//   - ChannelPool: Leases channels to keys (sessions). A key keeps its channel
//     until it is released, leasing again returns the same channel. Released
//     channels are kept in a small LIFO idle cache, the rest is closed. The
//     number of open channels never exceeds the configured cap, callers wait
//     for a release when the cap is reached.
//
//   - serverTransport: Accepts connections and handles the requests of every
//     connection in order. A global worker semaphore limits the number of
//     requests processed at the same time.
//
// Channel Lifecycle:
//
//	opened (dial under the cap) -> leased -> released -> idle or closed
//	idle -> checked on reuse -> leased, or closed when the master went away
//	any I/O or decoding error -> broken -> closed on release
//
//	Stale connections are only detected when they are taken out of the idle
//	cache: the check reads with a 1ms deadline, a timeout means the connection
//	is still alive.
//
// Performance Optimizations:
//
//   - Buffer Reuse: Every channel owns its buffers, the server takes its
//     buffers from a sync.Pool.
//
//   - Frame Batching: The transport uses net.Buffers to reduce syscalls when
//     writing frames, combining header and payload into a single write operation.
//
//   - No I/O under locks: dialing, probing and closing sockets happen outside
//     the pool mutex.
//
// Thread Safety:
//
//	ChannelPool is safe for concurrent use. A Channel must only be used by the
//	holder of its lease.
package base
