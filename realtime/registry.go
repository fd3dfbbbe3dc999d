package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/metric"
)

const defaultSendTimeout = 10 * time.Second

// RegistryConfig configures a connection registry. The zero value is usable:
// it falls back to a 10s send timeout, the default logger, and no metrics.
type RegistryConfig struct {
	// SendTimeout bounds each per-connection delivery during a broadcast.
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metric.MetricsRegistry
}

// Registry tracks live stream connections and their topic subscriptions, and
// fans broadcast frames out to subscribers. Topics are device IDs plus the
// TopicAll wildcard. All methods are safe for concurrent use.
//
// The registry keeps a two-way index: topic -> subscriber set, and
// connection -> subscribed topic set. Both sides are updated under the same
// lock, so they can never disagree.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]map[Connection]struct{}
	conns  map[Connection]map[string]struct{}

	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *registryMetrics
}

// NewRegistry creates an empty connection registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		topics:      make(map[string]map[Connection]struct{}),
		conns:       make(map[Connection]map[string]struct{}),
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		metrics:     newRegistryMetrics(cfg.Metrics),
	}
}

// Register adds a connection with no subscriptions. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn]; ok {
		return
	}
	r.conns[conn] = make(map[string]struct{})
	r.metrics.connectionRegistered()
	r.logger.Debug("stream connection registered", "connections", len(r.conns))
}

// Unregister removes a connection and purges every subscription it held.
// Topics left with no subscribers are deleted. Unknown connections are a
// no-op.
func (r *Registry) Unregister(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, ok := r.conns[conn]
	if !ok {
		return
	}
	for topic := range topics {
		r.dropSubscriptionLocked(topic, conn)
	}
	delete(r.conns, conn)
	r.metrics.connectionUnregistered(len(topics))
	r.logger.Debug("stream connection unregistered",
		"subscriptions_dropped", len(topics),
		"connections", len(r.conns))
}

// Subscribe adds conn to topic's subscriber set. The connection must already
// be registered. Subscribing twice to the same topic is a no-op.
func (r *Registry) Subscribe(conn Connection, topic string) error {
	if topic == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "registry", "Subscribe", "validate topic")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	topics, ok := r.conns[conn]
	if !ok {
		return errors.WrapInvalid(errors.ErrNotFound, "registry", "Subscribe", "look up connection")
	}
	if _, ok := topics[topic]; ok {
		return nil
	}

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[Connection]struct{})
		r.topics[topic] = subs
	}
	subs[conn] = struct{}{}
	topics[topic] = struct{}{}
	r.metrics.subscribed()
	return nil
}

// Unsubscribe removes conn from topic's subscriber set. Unknown connections
// or topics are a no-op.
func (r *Registry) Unsubscribe(conn Connection, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, ok := r.conns[conn]
	if !ok {
		return
	}
	if _, ok := topics[topic]; !ok {
		return
	}
	delete(topics, topic)
	r.dropSubscriptionLocked(topic, conn)
	r.metrics.unsubscribed()
}

// dropSubscriptionLocked removes conn from one topic set and deletes the
// topic entry when it empties. Caller holds r.mu.
func (r *Registry) dropSubscriptionLocked(topic string, conn Connection) {
	subs, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(r.topics, topic)
	}
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SubscriptionCount returns the number of subscribers for one topic.
func (r *Registry) SubscriptionCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics returns the topics that currently have at least one subscriber.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		out = append(out, topic)
	}
	return out
}

// Broadcast delivers payload to every live subscriber of topic. The
// subscriber set is snapshotted up front, so connections added or removed
// mid-broadcast are unaffected. Deliveries run concurrently, each bounded by
// the registry's send timeout; one slow or dead subscriber never blocks the
// others. Connections whose delivery fails are unregistered and closed after
// the fan-out completes. Broadcast itself never fails.
func (r *Registry) Broadcast(ctx context.Context, topic string, payload []byte) {
	start := time.Now()

	r.mu.RLock()
	subs := r.topics[topic]
	targets := make([]Connection, 0, len(subs))
	for conn := range subs {
		if conn.Alive() {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []Connection
	)
	for _, conn := range targets {
		wg.Add(1)
		go func(conn Connection) {
			defer wg.Done()
			if err := r.sendWithTimeout(ctx, conn, payload); err != nil {
				r.logger.Warn("stream delivery failed", "topic", topic, "error", err)
				failedMu.Lock()
				failed = append(failed, conn)
				failedMu.Unlock()
				return
			}
			r.metrics.sent(topic)
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		r.Unregister(conn)
		_ = conn.Close()
	}

	r.metrics.broadcastDone(time.Since(start).Seconds())
	r.logger.Debug("broadcast complete",
		"topic", topic,
		"delivered", len(targets)-len(failed),
		"failed", len(failed),
		"duration", time.Since(start))
}

// sendWithTimeout runs one delivery in its own goroutine so a wedged
// connection cannot hold the broadcast past the send timeout.
func (r *Registry) sendWithTimeout(ctx context.Context, conn Connection, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- conn.Send(payload)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			r.metrics.failed("write_error")
		}
		return err
	case <-sendCtx.Done():
		r.metrics.failed("timeout")
		return errors.WrapTransient(errors.ErrConnectionTimeout, "registry", "Broadcast", "deliver frame")
	}
}
