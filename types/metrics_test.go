package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetry/errors"
)

func TestNewSensorMetrics_Valid(t *testing.T) {
	tests := []struct {
		name        string
		temperature *float64
		humidity    *float64
		voltage     *float64
	}{
		{"all metrics", Float64(22.5), Float64(45.0), Float64(3.3)},
		{"temperature only", Float64(22.5), nil, nil},
		{"boundary low temperature", Float64(-40.0), nil, nil},
		{"boundary high temperature", Float64(85.0), nil, nil},
		{"boundary humidity", nil, Float64(100.0), nil},
		{"boundary voltage", nil, nil, Float64(24.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewSensorMetrics(tt.temperature, tt.humidity, tt.voltage)
			require.NoError(t, err)
			assert.True(t, m.HasAnyMetric())
		})
	}
}

func TestNewSensorMetrics_OutOfRange(t *testing.T) {
	tests := []struct {
		name        string
		temperature *float64
		humidity    *float64
		voltage     *float64
	}{
		{"temperature too high", Float64(90.0), nil, nil},
		{"temperature too low", Float64(-41.0), nil, nil},
		{"humidity negative", nil, Float64(-1.0), nil},
		{"humidity over 100", nil, Float64(100.5), nil},
		{"voltage negative", nil, nil, Float64(-0.1)},
		{"voltage too high", nil, nil, Float64(25.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSensorMetrics(tt.temperature, tt.humidity, tt.voltage)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidPayload, errors.CodeOf(err))
		})
	}
}

func TestSensorMetrics_HasAnyMetric(t *testing.T) {
	empty := SensorMetrics{}
	assert.False(t, empty.HasAnyMetric())

	m, err := NewSensorMetrics(nil, Float64(50.0), nil)
	require.NoError(t, err)
	assert.True(t, m.HasAnyMetric())
}

func TestSensorMetrics_ToMap(t *testing.T) {
	m, err := NewSensorMetrics(Float64(22.5), nil, Float64(3.3))
	require.NoError(t, err)

	got := m.ToMap()
	assert.Equal(t, map[string]float64{"temperature": 22.5, "voltage": 3.3}, got)
}

func TestSensorMetrics_JSONOmitsAbsent(t *testing.T) {
	m, err := NewSensorMetrics(Float64(22.5), nil, nil)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperature":22.5}`, string(data))
}

func TestSensorMetrics_String(t *testing.T) {
	m, _ := NewSensorMetrics(Float64(21.0), Float64(40.0), nil)
	assert.Equal(t, "Metrics(temp=21C, humidity=40%)", m.String())

	assert.Equal(t, "Metrics(empty)", SensorMetrics{}.String())
}
