// Package natsclient wraps a NATS connection with status and failure
// tracking. The telemetry backend uses core NATS only; readings arriving over
// NATS are ephemeral like their HTTP counterparts.
package natsclient

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/telemetry/errors"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int32

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds the connection settings.
type Config struct {
	URLs          []string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        *slog.Logger
}

// Client manages one NATS connection. Safe for concurrent use.
type Client struct {
	urls          string
	name          string
	maxReconnects int
	reconnectWait time.Duration
	logger        *slog.Logger

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed atomic.Bool

	status     atomic.Int32
	failures   atomic.Int32
	reconnects atomic.Int32
}

// NewClient creates a client. Connect must be called before use.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "natsclient", "NewClient",
			"at least one url required")
	}
	if cfg.Name == "" {
		cfg.Name = "telemetry"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		urls:          strings.Join(cfg.URLs, ","),
		name:          cfg.Name,
		maxReconnects: cfg.MaxReconnects,
		reconnectWait: cfg.ReconnectWait,
		logger:        cfg.Logger,
	}, nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the number of connection failures observed.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Reconnects returns the number of successful reconnections.
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// Connect establishes the NATS connection. The underlying library handles
// reconnection from there.
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(int32(StatusConnecting))
	c.logger.Info("connecting to nats", "urls", c.urls)

	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.failures.Add(1)
			c.status.Store(int32(StatusReconnecting))
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.reconnects.Add(1)
			c.status.Store(int32(StatusConnected))
			c.logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.status.Store(int32(StatusDisconnected))
			if !c.closed.Load() {
				c.logger.Warn("nats connection closed")
			}
		}),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.urls, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.failures.Add(1)
			c.status.Store(int32(StatusDisconnected))
			return errors.WrapTransient(err, "natsclient", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.failures.Add(1)
		c.status.Store(int32(StatusDisconnected))
		return errors.WrapTransient(ctx.Err(), "natsclient", "Connect", "establish connection")
	}

	c.status.Store(int32(StatusConnected))
	c.logger.Info("connected to nats", "urls", c.urls)
	return nil
}

// Subscribe subscribes to a subject, which may contain wildcards. The handler
// receives the concrete subject of each message.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return errors.Wrap(errors.ErrNoConnection, "natsclient", "Subscribe", "check connection")
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Subject, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Subscribe", "subscribe "+subject)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Publish publishes a message to a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.Wrap(errors.ErrNoConnection, "natsclient", "Publish", "check connection")
	}
	return conn.Publish(subject, data)
}

// Close drains subscriptions and closes the connection. Safe to call more
// than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	subs := c.subs
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	drained := make(chan error, 1)
	go func() {
		drained <- conn.Drain()
	}()
	select {
	case err := <-drained:
		if err != nil {
			conn.Close()
		}
	case <-ctx.Done():
		conn.Close()
	}

	c.status.Store(int32(StatusDisconnected))
	c.logger.Info("nats connection closed")
	return nil
}
