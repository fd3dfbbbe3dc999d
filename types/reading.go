package types

import (
	"time"

	"github.com/google/uuid"
)

// Reading is a single immutable sensor measurement from a device. Readings
// carry a server-assigned UTC timestamp and are never updated or deleted
// once persisted (append-only time series).
type Reading struct {
	ID        uuid.UUID     `json:"id"`
	DeviceID  string        `json:"device_id"`
	Metrics   SensorMetrics `json:"metrics"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewReading creates a reading with a fresh identifier. The timestamp must be
// the server clock; client-supplied timestamps are never accepted.
func NewReading(deviceID string, metrics SensorMetrics, timestamp time.Time) Reading {
	return Reading{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Metrics:   metrics,
		Timestamp: timestamp.UTC(),
	}
}
