package types

import (
	"time"

	"github.com/google/uuid"
)

// Device is a registered IoT device. The human-readable DeviceID (e.g.
// "esp32_01") is the stable identifier used in subscriptions, readings and
// API routes; the UUID is the internal primary key. Only IsActive and
// LastSeenAt are mutable after registration.
type Device struct {
	ID         uuid.UUID  `json:"id"`
	DeviceID   string     `json:"device_id"`
	Name       string     `json:"name,omitempty"`
	APIKeyHash string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// DeviceSummary is a device joined with its reading statistics, produced by
// the aggregation service for dashboard views.
type DeviceSummary struct {
	Device
	ReadingCount  int      `json:"reading_count"`
	LatestReading *Reading `json:"latest_reading,omitempty"`
}
