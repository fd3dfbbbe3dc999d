package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/realtime"
	"github.com/c360/telemetry/storage/memory"
	"github.com/c360/telemetry/types"
)

const testKey = "device-key-1"

// recordingBroadcaster captures broadcast calls in order.
type recordingBroadcaster struct {
	mu     sync.Mutex
	topics []string
	frames [][]byte
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.frames = append(b.frames, payload)
}

type recordingInvalidator struct {
	mu      sync.Mutex
	devices []string
}

func (i *recordingInvalidator) Invalidate(deviceID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.devices = append(i.devices, deviceID)
}

type fixture struct {
	devices     *memory.DeviceStore
	readings    *memory.ReadingStore
	broadcaster *recordingBroadcaster
	invalidator *recordingInvalidator
	service     *Service
	clock       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		devices:     memory.NewDeviceStore(),
		readings:    memory.NewReadingStore(),
		broadcaster: &recordingBroadcaster{},
		invalidator: &recordingInvalidator{},
		clock:       time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	service, err := NewService(f.devices, f.readings, Config{
		APIKeys:     []string{testKey, "device-key-2"},
		Broadcaster: f.broadcaster,
		Invalidator: f.invalidator,
	})
	require.NoError(t, err)
	service.now = func() time.Time { return f.clock }
	f.service = service

	require.NoError(t, f.devices.Create(context.Background(), types.Device{
		ID:        uuid.New(),
		DeviceID:  "esp32_01",
		IsActive:  true,
		CreatedAt: f.clock.Add(-24 * time.Hour),
	}))
	return f
}

func (f *fixture) readingCount(t *testing.T) int {
	t.Helper()
	count, err := f.readings.CountByDevice(context.Background(), "esp32_01")
	require.NoError(t, err)
	return count
}

func validMetrics(t *testing.T) types.SensorMetrics {
	t.Helper()
	m, err := types.NewSensorMetrics(types.Float64(21.5), types.Float64(55.0), nil)
	require.NoError(t, err)
	return m
}

func TestIngest_Success(t *testing.T) {
	f := newFixture(t)

	reading, err := f.service.Ingest(context.Background(), "esp32_01", validMetrics(t), testKey)
	require.NoError(t, err)

	assert.Equal(t, "esp32_01", reading.DeviceID)
	assert.Equal(t, f.clock, reading.Timestamp)
	assert.NotEqual(t, uuid.Nil, reading.ID)

	// Exactly one write.
	assert.Equal(t, 1, f.readingCount(t))

	// Last-seen updated with the server timestamp.
	dev, err := f.devices.GetByDeviceID(context.Background(), "esp32_01")
	require.NoError(t, err)
	require.NotNil(t, dev.LastSeenAt)
	assert.Equal(t, f.clock, *dev.LastSeenAt)

	// Device topic first, then the wildcard, same payload.
	require.Equal(t, []string{"esp32_01", realtime.TopicAll}, f.broadcaster.topics)
	assert.Equal(t, f.broadcaster.frames[0], f.broadcaster.frames[1])

	var frame map[string]any
	require.NoError(t, json.Unmarshal(f.broadcaster.frames[0], &frame))
	assert.Equal(t, "reading", frame["type"])
	assert.Equal(t, "esp32_01", frame["device_id"])

	// Cached aggregates invalidated.
	assert.Equal(t, []string{"esp32_01"}, f.invalidator.devices)
}

func TestIngest_MissingAPIKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ingest(context.Background(), "esp32_01", validMetrics(t), "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeAuthenticationFailed, errors.CodeOf(err))
	assert.Equal(t, 0, f.readingCount(t))
	assert.Empty(t, f.broadcaster.topics)
}

func TestIngest_InvalidAPIKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ingest(context.Background(), "esp32_01", validMetrics(t), "wrong-key")
	require.Error(t, err)
	assert.Equal(t, errors.CodeAuthenticationFailed, errors.CodeOf(err))
	assert.Equal(t, 0, f.readingCount(t))
}

func TestIngest_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ingest(context.Background(), "ghost", validMetrics(t), testKey)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDeviceNotFound, errors.CodeOf(err))
	assert.Empty(t, f.broadcaster.topics)
}

func TestIngest_InactiveDevice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.devices.Deactivate(context.Background(), "esp32_01"))

	_, err := f.service.Ingest(context.Background(), "esp32_01", validMetrics(t), testKey)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDeviceInactive, errors.CodeOf(err))
	assert.Equal(t, 0, f.readingCount(t))
	assert.Empty(t, f.broadcaster.topics)
	assert.Empty(t, f.invalidator.devices)
}

func TestIngest_OutOfRangeMetric(t *testing.T) {
	f := newFixture(t)

	metrics := types.SensorMetrics{Temperature: types.Float64(90.0)}
	_, err := f.service.Ingest(context.Background(), "esp32_01", metrics, testKey)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidPayload, errors.CodeOf(err))

	// Nothing written, nothing broadcast.
	assert.Equal(t, 0, f.readingCount(t))
	dev, derr := f.devices.GetByDeviceID(context.Background(), "esp32_01")
	require.NoError(t, derr)
	assert.Nil(t, dev.LastSeenAt)
	assert.Empty(t, f.broadcaster.topics)
}

func TestIngest_NoMetrics(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ingest(context.Background(), "esp32_01", types.SensorMetrics{}, testKey)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidPayload, errors.CodeOf(err))
	assert.Equal(t, 0, f.readingCount(t))
}

func TestIngest_ServerTimestampUTC(t *testing.T) {
	f := newFixture(t)
	f.clock = time.Date(2024, 6, 1, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	reading, err := f.service.Ingest(context.Background(), "esp32_01", validMetrics(t), testKey)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, reading.Timestamp.Location())
	assert.True(t, reading.Timestamp.Equal(f.clock))
}

func TestIngest_NoBroadcasterConfigured(t *testing.T) {
	f := newFixture(t)

	service, err := NewService(f.devices, f.readings, Config{APIKeys: []string{testKey}})
	require.NoError(t, err)

	_, err = service.Ingest(context.Background(), "esp32_01", validMetrics(t), testKey)
	require.NoError(t, err)
}
