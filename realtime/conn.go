package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/telemetry/errors"
)

// Connection is a push channel to one connected client. Implementations must
// be safe for concurrent Send calls and must be usable as a map key, so they
// are expected to be pointer types.
type Connection interface {
	// Send delivers one frame to the client. It returns an error once the
	// underlying channel is closed or the write fails.
	Send(payload []byte) error
	// Alive reports whether the connection can still accept frames.
	Alive() bool
	// Close tears down the channel. Safe to call more than once.
	Close() error
}

// WSConnection adapts a gorilla WebSocket to the Connection interface.
type WSConnection struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// The gorilla library panics on concurrent writes to the same
	// connection, so every outbound frame goes through writeMutex.
	writeMutex sync.Mutex
	closed     atomic.Bool
	closeOnce  sync.Once
}

// NewWSConnection wraps an upgraded WebSocket connection.
func NewWSConnection(conn *websocket.Conn, writeTimeout time.Duration) *WSConnection {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSConnection{conn: conn, writeTimeout: writeTimeout}
}

// Send writes payload as a single text frame.
func (c *WSConnection) Send(payload []byte) error {
	if c.closed.Load() {
		return errors.ErrConnectionClosed
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.WrapTransient(err, "wsconnection", "Send", "write frame")
	}
	return nil
}

// Ping writes a WebSocket ping control frame.
func (c *WSConnection) Ping() error {
	if c.closed.Load() {
		return errors.ErrConnectionClosed
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return errors.WrapTransient(err, "wsconnection", "Ping", "write control frame")
	}
	return nil
}

// Alive reports whether the connection has not been closed.
func (c *WSConnection) Alive() bool {
	return !c.closed.Load()
}

// Close marks the connection closed and closes the underlying socket.
func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}
