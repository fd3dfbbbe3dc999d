package aggregate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/storage/memory"
	"github.com/c360/telemetry/types"
)

// countingReadings wraps a ReadingStore and counts GetStats calls, optionally
// failing the next call.
type countingReadings struct {
	storage.ReadingStore
	statsCalls atomic.Int64
	failNext   atomic.Bool
}

func (c *countingReadings) GetStats(ctx context.Context, deviceID string, tr types.TimeRange) (storage.StatsResult, error) {
	c.statsCalls.Add(1)
	if c.failNext.CompareAndSwap(true, false) {
		return storage.StatsResult{}, errors.ErrStorageUnavailable
	}
	return c.ReadingStore.GetStats(ctx, deviceID, tr)
}

type fixture struct {
	devices  *memory.DeviceStore
	readings *countingReadings
	service  *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	devices := memory.NewDeviceStore()
	readings := &countingReadings{ReadingStore: memory.NewReadingStore()}

	service, err := NewService(devices, readings, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { service.Close() })

	return &fixture{devices: devices, readings: readings, service: service}
}

func (f *fixture) addDevice(t *testing.T, deviceID string, active bool) {
	t.Helper()
	require.NoError(t, f.devices.Create(context.Background(), types.Device{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Name:      "test " + deviceID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}))
	if !active {
		require.NoError(t, f.devices.SetActive(deviceID, false))
	}
}

func (f *fixture) addReading(t *testing.T, deviceID string, temp float64, at time.Time) types.Reading {
	t.Helper()
	metrics, err := types.NewSensorMetrics(types.Float64(temp), nil, nil)
	require.NoError(t, err)
	reading, err := f.readings.Create(context.Background(),
		types.NewReading(deviceID, metrics, at))
	require.NoError(t, err)
	return reading
}

func TestGetLatestReading(t *testing.T) {
	f := newFixture(t, Config{})
	f.addDevice(t, "sensor-001", true)

	latest, err := f.service.GetLatestReading(context.Background(), "sensor-001")
	require.NoError(t, err)
	assert.Nil(t, latest)

	now := time.Now().UTC()
	f.addReading(t, "sensor-001", 20.0, now.Add(-time.Hour))
	newest := f.addReading(t, "sensor-001", 22.5, now)

	latest, err = f.service.GetLatestReading(context.Background(), "sensor-001")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newest.ID, latest.ID)
}

func TestGetDeviceStats(t *testing.T) {
	f := newFixture(t, Config{})
	f.addDevice(t, "sensor-001", true)

	now := time.Now().UTC()
	f.addReading(t, "sensor-001", 18.0, now.Add(-2*time.Hour))
	f.addReading(t, "sensor-001", 24.0, now.Add(-time.Hour))
	// Outside the 24h window.
	f.addReading(t, "sensor-001", -10.0, now.Add(-48*time.Hour))

	stats, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.NoError(t, err)
	assert.Equal(t, "sensor-001", stats.DeviceID)
	assert.Equal(t, 2, stats.ReadingCount)
	require.NotNil(t, stats.Temperature)
	assert.Equal(t, 18.0, stats.Temperature.Min)
	assert.Equal(t, 24.0, stats.Temperature.Max)
	assert.InDelta(t, 21.0, stats.Temperature.Avg, 0.001)
	assert.Nil(t, stats.Humidity)
}

func TestGetDeviceStats_DefaultRange(t *testing.T) {
	f := newFixture(t, Config{})
	f.addDevice(t, "sensor-001", true)
	f.addReading(t, "sensor-001", 20.0, time.Now().UTC())

	stats, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ReadingCount)
}

func TestGetDeviceStats_InvalidRange(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "yesterday")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidTimeRange, errors.CodeOf(err))
	assert.Equal(t, int64(0), f.readings.statsCalls.Load())
}

func TestGetDeviceStats_Cached(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute})
	f.addDevice(t, "sensor-001", true)
	f.addReading(t, "sensor-001", 20.0, time.Now().UTC())

	for i := 0; i < 3; i++ {
		_, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), f.readings.statsCalls.Load())

	// A different range is a different cache key.
	_, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.readings.statsCalls.Load())
}

func TestGetDeviceStats_FailureNotCached(t *testing.T) {
	f := newFixture(t, Config{})
	f.addDevice(t, "sensor-001", true)
	f.addReading(t, "sensor-001", 20.0, time.Now().UTC())

	f.readings.failNext.Store(true)
	_, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.Error(t, err)

	stats, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ReadingCount)
	assert.Equal(t, int64(2), f.readings.statsCalls.Load())
}

func TestInvalidate_PerDevice(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute})
	f.addDevice(t, "sensor-001", true)
	f.addDevice(t, "sensor-002", true)
	f.addReading(t, "sensor-001", 20.0, time.Now().UTC())
	f.addReading(t, "sensor-002", 21.0, time.Now().UTC())

	_, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.NoError(t, err)
	_, err = f.service.GetDeviceStats(context.Background(), "sensor-002", "24h")
	require.NoError(t, err)
	require.Equal(t, int64(2), f.readings.statsCalls.Load())

	f.service.Invalidate("sensor-001")

	// sensor-002 stays cached; sensor-001 recomputes.
	_, err = f.service.GetDeviceStats(context.Background(), "sensor-002", "24h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.readings.statsCalls.Load())

	_, err = f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.readings.statsCalls.Load())
}

func TestInvalidate_All(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute})
	f.addDevice(t, "sensor-001", true)
	f.addReading(t, "sensor-001", 20.0, time.Now().UTC())

	_, err := f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.NoError(t, err)

	f.service.Invalidate("")

	_, err = f.service.GetDeviceStats(context.Background(), "sensor-001", "24h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.readings.statsCalls.Load())
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t, Config{HistoryDefaultLimit: 2})
	f.addDevice(t, "sensor-001", true)

	now := time.Now().UTC()
	f.addReading(t, "sensor-001", 18.0, now.Add(-3*time.Hour))
	f.addReading(t, "sensor-001", 20.0, now.Add(-2*time.Hour))
	newest := f.addReading(t, "sensor-001", 22.0, now.Add(-time.Hour))

	// Default window is 24h, default limit applies.
	readings, err := f.service.GetHistory(context.Background(), "sensor-001", HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, newest.ID, readings[0].ID)

	// Explicit limit overrides the default.
	readings, err = f.service.GetHistory(context.Background(), "sensor-001", HistoryQuery{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, readings, 3)

	// Range narrows the window.
	readings, err = f.service.GetHistory(context.Background(), "sensor-001",
		HistoryQuery{Range: "90m", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	// Explicit start/end window.
	readings, err = f.service.GetHistory(context.Background(), "sensor-001", HistoryQuery{
		Start: now.Add(-150 * time.Minute),
		End:   now.Add(-90 * time.Minute),
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestGetHistory_InvalidRange(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.service.GetHistory(context.Background(), "sensor-001", HistoryQuery{Range: "soon"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidTimeRange, errors.CodeOf(err))
}

func TestGetAllDevicesSummary(t *testing.T) {
	f := newFixture(t, Config{})
	f.addDevice(t, "sensor-001", true)
	f.addDevice(t, "sensor-002", true)
	f.addDevice(t, "sensor-003", false)

	now := time.Now().UTC()
	f.addReading(t, "sensor-001", 20.0, now.Add(-time.Hour))
	latest := f.addReading(t, "sensor-001", 21.0, now)

	summaries, err := f.service.GetAllDevicesSummary(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := make(map[string]types.DeviceSummary, len(summaries))
	for _, s := range summaries {
		byID[s.DeviceID] = s
	}

	one := byID["sensor-001"]
	assert.Equal(t, 2, one.ReadingCount)
	require.NotNil(t, one.LatestReading)
	assert.Equal(t, latest.ID, one.LatestReading.ID)

	two := byID["sensor-002"]
	assert.Equal(t, 0, two.ReadingCount)
	assert.Nil(t, two.LatestReading)

	all, err := f.service.GetAllDevicesSummary(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
