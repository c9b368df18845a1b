package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSLink carries the two channels over one WebSocket connection: text
// frames written by Send are the outbound channel, frames read by Recv the
// inbound one. Writes are serialized with a mutex since gorilla/websocket
// allows only one concurrent writer.
//
// Reads go through a dedicated goroutine feeding an internal channel:
// gorilla/websocket fails the connection's reader permanently after any
// read error, deadline expiries included, so Recv must never set read
// deadlines on the shared conn. The reader blocks until a frame or a
// connection error; Recv does the bounded waiting on the channel.
type WSLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	msgs chan []byte
	stop chan struct{} // closed by Close
	dead chan struct{} // closed when the reader exits

	errMu   sync.Mutex
	readErr error
}

// DialWS connects to the agent's WebSocket endpoint (ws://host:port/path)
// and starts the connection's single reader.
func DialWS(ctx context.Context, url string) (*WSLink, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	w := &WSLink{
		conn: conn,
		msgs: make(chan []byte, 64),
		stop: make(chan struct{}),
		dead: make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

func (w *WSLink) readLoop() {
	defer close(w.dead)
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.errMu.Lock()
			w.readErr = err
			w.errMu.Unlock()
			return
		}
		select {
		case w.msgs <- msg:
		case <-w.stop:
			return
		}
	}
}

func (w *WSLink) Send(ctx context.Context, payload []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
	} else {
		_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if w.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

// Recv returns the next inbound frame, waiting at most timeout. A timeout
// only expires the wait, never the connection, so later frames are still
// delivered on later calls.
func (w *WSLink) Recv(_ context.Context, timeout time.Duration) ([]byte, error) {
	// Frames already buffered are served even after the connection died.
	select {
	case msg := <-w.msgs:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-w.msgs:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-w.dead:
		// The reader may have queued frames before failing; drain first.
		select {
		case msg := <-w.msgs:
			return msg, nil
		default:
		}
		if w.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("ws read: %w", w.loadReadErr())
	}
}

func (w *WSLink) loadReadErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.readErr
}

func (w *WSLink) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	close(w.stop)
	return w.conn.Close()
}
