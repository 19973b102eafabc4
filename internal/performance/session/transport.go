package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrReceiveTimeout is returned by Conn.Receive when no frame arrives before
// the deadline. The connection stays usable.
var ErrReceiveTimeout = errors.New("receive deadline exceeded")

// ErrConnClosed is returned once the connection has been closed locally.
var ErrConnClosed = errors.New("connection closed")

// Frame is one inbound message, stamped when it was read off the wire.
type Frame struct {
	Data []byte
	At   time.Time
}

// Conn is an open persistent connection.
type Conn interface {
	// Send writes one text frame.
	Send(ctx context.Context, data []byte) error
	// Receive waits for the next frame until deadline or ctx is done. A zero
	// deadline waits on ctx alone.
	Receive(ctx context.Context, deadline time.Time) (Frame, error)
	// Close performs the closing handshake, waiting at most grace for the
	// peer, then releases the connection.
	Close(grace time.Duration) error
}

// Dialer opens persistent connections. It returns the handshake status code
// even when the dial fails, or 0 if no response was received.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, int, error)
}

// ConnectionError describes a transport failure on a session.
type ConnectionError struct {
	Op     string
	Status int
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("websocket %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("websocket %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// WebSocketDialer dials real WebSocket endpoints with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	// ReadBuffer is the number of inbound frames buffered ahead of the
	// session loop.
	ReadBuffer int
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, int, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}
	}
	if err != nil {
		return nil, status, err
	}

	buf := d.ReadBuffer
	if buf <= 0 {
		buf = 64
	}
	return newWSConn(ws, buf), status, nil
}

// wsConn adapts a gorilla connection to Conn. A dedicated goroutine owns
// all reads so that a receive timeout never touches the underlying
// connection's read deadline; gorilla treats a timed-out read as fatal.
type wsConn struct {
	ws     *websocket.Conn
	frames chan Frame
	done   chan struct{}

	writeMu sync.Mutex

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	c := &wsConn{
		ws:     ws,
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.frames <- Frame{Data: data, At: time.Now()}:
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Receive(ctx context.Context, deadline time.Time) (Frame, error) {
	// Drain buffered frames before reporting a read error.
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		if err := c.err(); err != nil {
			return Frame{}, err
		}
		return Frame{}, ErrConnClosed
	case <-timeout:
		return Frame{}, ErrReceiveTimeout
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *wsConn) Close(grace time.Duration) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(grace))
		c.writeMu.Unlock()

		if werr == nil && grace > 0 {
			timer := time.NewTimer(grace)
			select {
			case <-c.done:
			case <-timer.C:
			}
			timer.Stop()
		}

		err = c.ws.Close()
		<-c.done
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = errors.Join(werr, err)
		}
	})
	return err
}
