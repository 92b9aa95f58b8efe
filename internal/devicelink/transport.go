package devicelink

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message transport to the device-control server.
//
// The production implementation wraps a gorilla WebSocket connection.
// Tests substitute an in-memory fake, which also keeps the reconnect and
// heartbeat paths exercisable without a live server.
type Conn interface {
	// ReadMessage blocks until a frame arrives, the deadline passes, or
	// the transport fails. Deadline expiry is reported as a timeout error
	// (see isTimeout); the listener treats it as a normal poll cycle and
	// the transport must remain readable afterwards.
	ReadMessage(deadline time.Time) ([]byte, error)

	// WriteMessage sends one text frame.
	WriteMessage(data []byte, deadline time.Time) error

	// Ping sends a transport-level ping.
	Ping(deadline time.Time) error

	// Close tears the transport down. Safe to call concurrently with reads.
	Close() error
}

// Dialer opens a transport to the device-control server.
type Dialer func(ctx context.Context, url string) (Conn, error)

// dialWebSocket is the default Dialer, backed by gorilla/websocket.
func dialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(conn), nil
}

// pollTimeoutError is the synthetic deadline-expiry error returned by
// wsConn.ReadMessage. It satisfies net.Error so isTimeout matches it.
type pollTimeoutError struct{}

func (pollTimeoutError) Error() string   { return "devicelink: read poll timed out" }
func (pollTimeoutError) Timeout() bool   { return true }
func (pollTimeoutError) Temporary() bool { return true }

// wsConn adapts *websocket.Conn to the Conn interface.
//
// gorilla treats read errors as permanent: once a read deadline expires
// the connection is unusable and repeated reads panic. Poll deadlines are
// therefore kept off the socket entirely. A single reader goroutine reads
// the socket with no deadline and feeds frames into a channel; ReadMessage
// selects on that channel against a timer and reports expiry with a
// synthetic timeout error, leaving the socket untouched.
type wsConn struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	// readErr is the terminal read error. Written by the reader goroutine
	// before frames is closed, so receivers observing the close see it.
	readErr error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	w := &wsConn{
		conn:   conn,
		frames: make(chan []byte, 8),
		done:   make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// readLoop is the sole reader of the underlying socket. It exits when the
// socket fails or the conn is closed with undelivered frames pending.
func (w *wsConn) readLoop() {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = err
			close(w.frames)
			return
		}
		select {
		case w.frames <- data:
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) ReadMessage(deadline time.Time) ([]byte, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case data, ok := <-w.frames:
		if !ok {
			return nil, w.readErr
		}
		return data, nil
	case <-timer.C:
		return nil, pollTimeoutError{}
	}
}

func (w *wsConn) WriteMessage(data []byte, deadline time.Time) error {
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Ping(deadline time.Time) error {
	return w.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *wsConn) Close() error {
	w.once.Do(func() { close(w.done) })
	return w.conn.Close()
}

// isTimeout reports whether err is a deadline expiry rather than a
// transport failure.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
