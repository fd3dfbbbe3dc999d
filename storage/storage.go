// Package storage defines the persistence contracts consumed by the telemetry
// core. The core depends only on these read/write interfaces; implementations
// live in the memory and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/c360/telemetry/types"
)

// DeviceStore provides access to registered devices.
type DeviceStore interface {
	// Create registers a new device.
	Create(ctx context.Context, device types.Device) error

	// GetByDeviceID returns the device with the given human-readable id.
	// Returns an error wrapping errors.ErrNotFound if no such device exists.
	GetByDeviceID(ctx context.Context, deviceID string) (*types.Device, error)

	// Exists reports whether a device with the given id is registered.
	Exists(ctx context.Context, deviceID string) (bool, error)

	// UpdateLastSeen records the timestamp of the device's most recent reading.
	UpdateLastSeen(ctx context.Context, deviceID string, timestamp time.Time) error

	// Deactivate marks a device inactive. Deactivated devices cannot submit
	// readings. Returns an error wrapping errors.ErrNotFound for unknown ids.
	Deactivate(ctx context.Context, deviceID string) error

	// GetAll returns all devices, optionally including deactivated ones.
	GetAll(ctx context.Context, includeInactive bool) ([]types.Device, error)
}

// ReadingStore provides access to the append-only reading time series.
type ReadingStore interface {
	// Create persists a reading. Readings are immutable once created.
	Create(ctx context.Context, reading types.Reading) (types.Reading, error)

	// GetLatest returns the most recent reading for a device, or nil if the
	// device has no readings.
	GetLatest(ctx context.Context, deviceID string) (*types.Reading, error)

	// GetHistory returns readings within the time range, most recent first,
	// capped at limit.
	GetHistory(ctx context.Context, deviceID string, tr types.TimeRange, limit int) ([]types.Reading, error)

	// GetStats computes aggregate statistics over the time range.
	GetStats(ctx context.Context, deviceID string, tr types.TimeRange) (StatsResult, error)

	// CountByDevice returns the total number of readings for a device.
	CountByDevice(ctx context.Context, deviceID string) (int, error)
}

// MetricStats holds min/max/avg aggregates for one metric. Absent when no
// reading in the range carried the metric.
type MetricStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// StatsResult is the aggregate view of a device's readings over a time range.
type StatsResult struct {
	DeviceID     string          `json:"device_id"`
	Range        types.TimeRange `json:"range"`
	ReadingCount int             `json:"reading_count"`
	Temperature  *MetricStats    `json:"temperature,omitempty"`
	Humidity     *MetricStats    `json:"humidity,omitempty"`
	Voltage      *MetricStats    `json:"voltage,omitempty"`
}
