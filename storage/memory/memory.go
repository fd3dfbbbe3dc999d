// Package memory provides in-memory implementations of the storage contracts.
// Used for tests and single-node development deployments; data does not
// survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/types"
)

// DeviceStore is an in-memory storage.DeviceStore keyed by human-readable
// device id.
type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]types.Device
}

// NewDeviceStore creates an empty in-memory device store.
func NewDeviceStore() *DeviceStore {
	return &DeviceStore{
		devices: make(map[string]types.Device),
	}
}

// Create registers a new device.
func (s *DeviceStore) Create(_ context.Context, device types.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[device.DeviceID]; exists {
		return errors.WrapInvalid(errors.ErrInvalidData, "DeviceStore", "Create",
			"device id already registered: "+device.DeviceID)
	}
	s.devices[device.DeviceID] = device
	return nil
}

// GetByDeviceID returns the device with the given human-readable id.
func (s *DeviceStore) GetByDeviceID(_ context.Context, deviceID string) (*types.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, exists := s.devices[deviceID]
	if !exists {
		return nil, errors.Wrap(errors.ErrNotFound, "DeviceStore", "GetByDeviceID", "lookup "+deviceID)
	}
	return &device, nil
}

// Exists reports whether a device with the given id is registered.
func (s *DeviceStore) Exists(_ context.Context, deviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.devices[deviceID]
	return exists, nil
}

// UpdateLastSeen records the timestamp of the device's most recent reading.
func (s *DeviceStore) UpdateLastSeen(_ context.Context, deviceID string, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, exists := s.devices[deviceID]
	if !exists {
		return errors.Wrap(errors.ErrNotFound, "DeviceStore", "UpdateLastSeen", "lookup "+deviceID)
	}
	ts := timestamp.UTC()
	device.LastSeenAt = &ts
	s.devices[deviceID] = device
	return nil
}

// Deactivate marks a device inactive.
func (s *DeviceStore) Deactivate(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, exists := s.devices[deviceID]
	if !exists {
		return errors.Wrap(errors.ErrNotFound, "DeviceStore", "Deactivate", "lookup "+deviceID)
	}
	device.IsActive = false
	s.devices[deviceID] = device
	return nil
}

// SetActive flips the device's active flag. Test and admin helper.
func (s *DeviceStore) SetActive(deviceID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, exists := s.devices[deviceID]
	if !exists {
		return errors.Wrap(errors.ErrNotFound, "DeviceStore", "SetActive", "lookup "+deviceID)
	}
	device.IsActive = active
	s.devices[deviceID] = device
	return nil
}

// GetAll returns all devices sorted by device id.
func (s *DeviceStore) GetAll(_ context.Context, includeInactive bool) ([]types.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]types.Device, 0, len(s.devices))
	for _, device := range s.devices {
		if !includeInactive && !device.IsActive {
			continue
		}
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})
	return devices, nil
}

// ReadingStore is an in-memory storage.ReadingStore. Readings are kept per
// device in insertion order; queries sort as needed.
type ReadingStore struct {
	mu       sync.RWMutex
	readings map[string][]types.Reading
}

// NewReadingStore creates an empty in-memory reading store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{
		readings: make(map[string][]types.Reading),
	}
}

// Create persists a reading.
func (s *ReadingStore) Create(_ context.Context, reading types.Reading) (types.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readings[reading.DeviceID] = append(s.readings[reading.DeviceID], reading)
	return reading, nil
}

// GetLatest returns the most recent reading for a device, or nil if none.
func (s *ReadingStore) GetLatest(_ context.Context, deviceID string) (*types.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	readings := s.readings[deviceID]
	if len(readings) == 0 {
		return nil, nil
	}

	latest := readings[0]
	for _, r := range readings[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return &latest, nil
}

// GetHistory returns readings within the range, most recent first.
func (s *ReadingStore) GetHistory(
	_ context.Context, deviceID string, tr types.TimeRange, limit int,
) ([]types.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Reading
	for _, r := range s.readings[deviceID] {
		if tr.Contains(r.Timestamp) {
			result = append(result, r)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetStats computes aggregate statistics over the time range.
func (s *ReadingStore) GetStats(
	_ context.Context, deviceID string, tr types.TimeRange,
) (storage.StatsResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := storage.StatsResult{
		DeviceID: deviceID,
		Range:    tr,
	}

	var temp, humidity, voltage aggregator
	for _, r := range s.readings[deviceID] {
		if !tr.Contains(r.Timestamp) {
			continue
		}
		result.ReadingCount++
		temp.add(r.Metrics.Temperature)
		humidity.add(r.Metrics.Humidity)
		voltage.add(r.Metrics.Voltage)
	}

	result.Temperature = temp.stats()
	result.Humidity = humidity.stats()
	result.Voltage = voltage.stats()
	return result, nil
}

// CountByDevice returns the total number of readings for a device.
func (s *ReadingStore) CountByDevice(_ context.Context, deviceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings[deviceID]), nil
}

// aggregator accumulates min/max/sum over optional metric values.
type aggregator struct {
	count    int
	min, max float64
	sum      float64
}

func (a *aggregator) add(v *float64) {
	if v == nil {
		return
	}
	if a.count == 0 || *v < a.min {
		a.min = *v
	}
	if a.count == 0 || *v > a.max {
		a.max = *v
	}
	a.sum += *v
	a.count++
}

func (a *aggregator) stats() *storage.MetricStats {
	if a.count == 0 {
		return nil
	}
	return &storage.MetricStats{
		Min: a.min,
		Max: a.max,
		Avg: a.sum / float64(a.count),
	}
}

// Interface compliance checks
var _ storage.DeviceStore = (*DeviceStore)(nil)
var _ storage.ReadingStore = (*ReadingStore)(nil)
