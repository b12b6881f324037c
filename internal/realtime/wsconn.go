package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("connection closed")

const defaultWriteTimeout = 10 * time.Second

// WSConn adapts a gorilla websocket connection to Conn. Writes are
// serialized since websocket.Conn supports only one concurrent writer.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       atomic.Bool
}

func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *WSConn) Open() bool {
	return !c.closed.Load()
}

func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// Ping writes a ping control frame.
func (c *WSConn) Ping() error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close marks the connection closed, sends a close frame and releases the
// socket. Only the first call has any effect.
func (c *WSConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *WSConn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
