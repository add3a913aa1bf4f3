// Package bus implements the message bus transport that carries OpenSRF
// envelopes between processes. A Broker is the narrow interface the rest of
// the fabric depends on; Client wraps a Broker with addressing and retry
// semantics so callers never talk to the broker directly.
package bus

import (
	"context"
	"time"
)

// Broker is the minimal list-queue abstraction the fabric needs: push a
// payload onto an address's queue, block (bounded or not) for the next
// payload pushed to an address, and drop a queue entirely on disconnect.
//
// A Broker implementation owns no addressing or message-shape knowledge; it
// moves opaque bytes between queues named by bus address strings.
type Broker interface {
	// Publish appends payload to the queue named addr and wakes any
	// blocked Recv waiting on it.
	Publish(ctx context.Context, addr string, payload []byte) error

	// Recv waits for and removes the next payload queued at addr.
	// timeout < 0 blocks until ctx is done; timeout == 0 polls once
	// without blocking; timeout > 0 bounds the wait. Recv returns
	// (nil, nil) on a timeout with no payload available.
	Recv(ctx context.Context, addr string, timeout time.Duration) ([]byte, error)

	// Clear deletes the queue named addr, discarding any backlog.
	Clear(ctx context.Context, addr string) error

	// Close releases the broker's underlying connection(s).
	Close() error
}
