package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetry/metric"
)

type ingestMetrics struct {
	readingsIngested prometheus.Counter
	readingsRejected *prometheus.CounterVec
	ingestDuration   prometheus.Histogram
}

func newIngestMetrics(registry *metric.MetricsRegistry) *ingestMetrics {
	if registry == nil {
		return nil
	}

	m := &ingestMetrics{
		readingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Readings accepted and persisted",
		}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Readings rejected by the validation pipeline",
		}, []string{"code"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall time of the ingestion pipeline up to persistence",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	_ = registry.RegisterCounter("ingest", "readings_total", m.readingsIngested)
	_ = registry.RegisterCounterVec("ingest", "rejected_total", m.readingsRejected)
	_ = registry.RegisterHistogram("ingest", "duration_seconds", m.ingestDuration)

	return m
}

func (m *ingestMetrics) ingested(seconds float64) {
	if m == nil {
		return
	}
	m.readingsIngested.Inc()
	m.ingestDuration.Observe(seconds)
}

func (m *ingestMetrics) rejected(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.readingsRejected.WithLabelValues(code).Inc()
}
