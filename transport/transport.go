// Package transport provides the two one-way message channels between the
// relay and the execution agent behind a single duplex interface: Send
// writes the outbound (relay -> agent) channel, Recv drains the inbound
// (agent -> relay) channel. Each implementation keeps the two directions
// physically separate (two Redis lists, the two halves of a WebSocket
// connection, two Go channels).
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Recv when no message arrived within the
	// poll timeout. The listener treats it as "loop again", not a fault.
	ErrTimeout = errors.New("transport: receive timed out")

	// ErrClosed is returned once the transport has been shut down.
	ErrClosed = errors.New("transport: closed")
)

// Transport is one end of the relay <-> agent link. Implementations must
// support concurrent Send calls; Recv has a single reader (the listener).
type Transport interface {
	// Send enqueues one message on the outbound channel. It may block
	// under backpressure until ctx is done.
	Send(ctx context.Context, payload []byte) error

	// Recv returns the next inbound message, waiting at most timeout.
	// Returns ErrTimeout when nothing arrived and ErrClosed after Close.
	Recv(ctx context.Context, timeout time.Duration) ([]byte, error)

	Close() error
}
