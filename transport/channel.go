package transport

import (
	"context"
	"sync"
	"time"
)

// ChannelEnd is an in-process Transport backed by a pair of Go channels.
// Used by tests and by the simulated agent; Pair returns the two crossed
// ends so one side's Send is the other side's Recv.
type ChannelEnd struct {
	send chan []byte
	recv chan []byte

	done      chan struct{}
	closeOnce *sync.Once
}

// Pair returns the relay end and the agent end of an in-process link.
// buffer is the per-direction queue depth; a full queue exerts
// backpressure on Send.
func Pair(buffer int) (*ChannelEnd, *ChannelEnd) {
	if buffer <= 0 {
		buffer = 64
	}
	toAgent := make(chan []byte, buffer)
	toRelay := make(chan []byte, buffer)
	done := make(chan struct{})
	once := &sync.Once{}

	relayEnd := &ChannelEnd{send: toAgent, recv: toRelay, done: done, closeOnce: once}
	agentEnd := &ChannelEnd{send: toRelay, recv: toAgent, done: done, closeOnce: once}
	return relayEnd, agentEnd
}

func (c *ChannelEnd) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChannelEnd) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	// Drain anything already queued even if the pair was closed meanwhile,
	// so no message is lost during shutdown.
	select {
	case msg := <-c.recv:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.recv:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down both ends of the pair.
func (c *ChannelEnd) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
