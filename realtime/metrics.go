package realtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetry/metric"
)

// registryMetrics carries the Prometheus instruments for the connection
// registry. A nil receiver disables all recording.
type registryMetrics struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	subscriptionsActive prometheus.Gauge
	messagesSent        *prometheus.CounterVec
	sendFailures        *prometheus.CounterVec
	broadcastDuration   prometheus.Histogram
}

func newRegistryMetrics(registry *metric.MetricsRegistry) *registryMetrics {
	if registry == nil {
		return nil
	}

	m := &registryMetrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "realtime",
			Name:      "connections_active",
			Help:      "Number of currently registered stream connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "realtime",
			Name:      "connections_total",
			Help:      "Total stream connections registered since start",
		}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "realtime",
			Name:      "subscriptions_active",
			Help:      "Number of active topic subscriptions",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "realtime",
			Name:      "messages_sent_total",
			Help:      "Frames delivered to stream connections",
		}, []string{"topic_kind"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "realtime",
			Name:      "send_failures_total",
			Help:      "Frame deliveries that failed or timed out",
		}, []string{"reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "realtime",
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of a full broadcast fan-out",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	_ = registry.RegisterGauge("realtime", "connections_active", m.connectionsActive)
	_ = registry.RegisterCounter("realtime", "connections_total", m.connectionsTotal)
	_ = registry.RegisterGauge("realtime", "subscriptions_active", m.subscriptionsActive)
	_ = registry.RegisterCounterVec("realtime", "messages_sent_total", m.messagesSent)
	_ = registry.RegisterCounterVec("realtime", "send_failures_total", m.sendFailures)
	_ = registry.RegisterHistogram("realtime", "broadcast_duration_seconds", m.broadcastDuration)

	return m
}

// topicKind collapses topic names into a bounded label set.
func topicKind(topic string) string {
	if topic == TopicAll {
		return "all"
	}
	return "device"
}

func (m *registryMetrics) connectionRegistered() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

func (m *registryMetrics) connectionUnregistered(subscriptions int) {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
	m.subscriptionsActive.Sub(float64(subscriptions))
}

func (m *registryMetrics) subscribed() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Inc()
}

func (m *registryMetrics) unsubscribed() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Dec()
}

func (m *registryMetrics) sent(topic string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(topicKind(topic)).Inc()
}

func (m *registryMetrics) failed(reason string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *registryMetrics) broadcastDone(seconds float64) {
	if m == nil {
		return
	}
	m.broadcastDuration.Observe(seconds)
}
