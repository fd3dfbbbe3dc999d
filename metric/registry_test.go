package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      "test counter",
	})
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	err := registry.RegisterCounter("registry", "broadcasts_total", newTestCounter("broadcasts_total"))
	require.NoError(t, err)
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterCounter("registry", "dup", newTestCounter("dup_total")))

	err := registry.RegisterCounter("registry", "dup", newTestCounter("dup_total"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")
}

func TestMetricsRegistry_SameNameDifferentComponent(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "cache", Name: "hits_total",
		ConstLabels: prometheus.Labels{"component": "a"}, Help: "h",
	})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "cache", Name: "hits_total",
		ConstLabels: prometheus.Labels{"component": "b"}, Help: "h",
	})

	require.NoError(t, registry.RegisterCounter("a", "hits", c1))
	require.NoError(t, registry.RegisterCounter("b", "hits", c2))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterCounter("registry", "temp", newTestCounter("temp_total")))
	assert.True(t, registry.Unregister("registry", "temp"))
	assert.False(t, registry.Unregister("registry", "temp"))

	// Re-registration after unregister succeeds
	require.NoError(t, registry.RegisterCounter("registry", "temp", newTestCounter("temp_total")))
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Name: "connections", Help: "h",
	})
	require.NoError(t, registry.RegisterGauge("registry", "connections", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace, Name: "broadcast_seconds", Help: "h",
	})
	require.NoError(t, registry.RegisterHistogram("registry", "broadcast_seconds", hist))

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace, Name: "errors_total", Help: "h",
	}, []string{"error_type"})
	require.NoError(t, registry.RegisterCounterVec("registry", "errors", vec))
}
