package natsingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetry/metric"
)

type bridgeMetrics struct {
	messagesReceived prometheus.Counter
	messagesIngested prometheus.Counter
	messagesRejected *prometheus.CounterVec
}

func newBridgeMetrics(registry *metric.MetricsRegistry) *bridgeMetrics {
	if registry == nil {
		return nil
	}

	m := &bridgeMetrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natsingest",
			Name:      "messages_total",
			Help:      "Messages received on reading subjects",
		}),
		messagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natsingest",
			Name:      "ingested_total",
			Help:      "Messages that passed the ingestion pipeline",
		}),
		messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natsingest",
			Name:      "rejected_total",
			Help:      "Messages dropped before or during ingestion",
		}, []string{"code"}),
	}

	_ = registry.RegisterCounter("natsingest", "messages_total", m.messagesReceived)
	_ = registry.RegisterCounter("natsingest", "ingested_total", m.messagesIngested)
	_ = registry.RegisterCounterVec("natsingest", "rejected_total", m.messagesRejected)

	return m
}

func (m *bridgeMetrics) received() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *bridgeMetrics) ingested() {
	if m == nil {
		return
	}
	m.messagesIngested.Inc()
}

func (m *bridgeMetrics) rejected(code string) {
	if m == nil {
		return
	}
	m.messagesRejected.WithLabelValues(code).Inc()
}
