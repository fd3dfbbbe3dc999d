// Package ingest implements the reading ingestion pipeline: authenticate,
// validate, timestamp, persist, then notify live subscribers.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/metric"
	"github.com/c360/telemetry/realtime"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/types"
)

// Broadcaster pushes a frame to every subscriber of a topic. Satisfied by
// *realtime.Registry.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, payload []byte)
}

// Invalidator drops cached aggregates for a device. Satisfied by
// *aggregate.Service.
type Invalidator interface {
	Invalidate(deviceID string)
}

// Config configures the ingestion service.
type Config struct {
	// APIKeys is the set of credentials accepted from devices.
	APIKeys []string
	// Broadcaster receives the reading after persistence. Optional; nil
	// disables live push.
	Broadcaster Broadcaster
	// Invalidator is told about each ingested reading so stale aggregates
	// are dropped. Optional.
	Invalidator Invalidator
	Logger      *slog.Logger
	Metrics     *metric.MetricsRegistry
}

// Service ingests sensor readings. The pipeline runs in a fixed order:
// API key check, device lookup, active check, metrics validation, server-side
// UTC timestamp, persist, last-seen update, broadcast to the device topic and
// then the all-devices topic. A failure at any validation step stops the
// pipeline before anything is written. Broadcast failures never fail an
// ingestion; they only surface as dead-connection cleanup inside the
// registry.
type Service struct {
	devices     storage.DeviceStore
	readings    storage.ReadingStore
	broadcaster Broadcaster
	invalidator Invalidator
	apiKeys     map[string]struct{}
	logger      *slog.Logger
	metrics     *ingestMetrics

	// now is the timestamp source; replaced in tests.
	now func() time.Time
}

// NewService creates an ingestion service.
func NewService(devices storage.DeviceStore, readings storage.ReadingStore, cfg Config) (*Service, error) {
	if devices == nil || readings == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "ingest", "NewService",
			"stores must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		if key != "" {
			keys[key] = struct{}{}
		}
	}

	return &Service{
		devices:     devices,
		readings:    readings,
		broadcaster: cfg.Broadcaster,
		invalidator: cfg.Invalidator,
		apiKeys:     keys,
		logger:      cfg.Logger,
		metrics:     newIngestMetrics(cfg.Metrics),
		now:         time.Now,
	}, nil
}

// Ingest runs one reading through the pipeline and returns the persisted
// reading with its server-assigned id and timestamp. Client timestamps are
// never accepted.
func (s *Service) Ingest(ctx context.Context, deviceID string, metrics types.SensorMetrics, apiKey string) (types.Reading, error) {
	start := time.Now()

	if err := s.authenticate(deviceID, apiKey); err != nil {
		return types.Reading{}, s.reject(err)
	}

	dev, err := s.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.logger.Warn("ingestion for unknown device", "device_id", deviceID)
			return types.Reading{}, s.reject(errors.NewDeviceNotFound(deviceID))
		}
		return types.Reading{}, errors.Wrap(err, "ingest", "Ingest", "fetch device")
	}
	if !dev.IsActive {
		s.logger.Warn("ingestion for inactive device", "device_id", deviceID)
		return types.Reading{}, s.reject(errors.NewDeviceInactive(deviceID))
	}

	if err := metrics.Validate(); err != nil {
		s.logger.Warn("invalid metrics in payload", "device_id", deviceID, "error", err)
		return types.Reading{}, s.reject(err)
	}
	if !metrics.HasAnyMetric() {
		return types.Reading{}, s.reject(
			errors.NewInvalidPayload("at least one metric value is required"))
	}

	timestamp := s.now().UTC()
	reading := types.NewReading(deviceID, metrics, timestamp)

	persisted, err := s.readings.Create(ctx, reading)
	if err != nil {
		return types.Reading{}, errors.WrapTransient(err, "ingest", "Ingest", "persist reading")
	}
	if err := s.devices.UpdateLastSeen(ctx, deviceID, timestamp); err != nil {
		return types.Reading{}, errors.WrapTransient(err, "ingest", "Ingest", "update last seen")
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(deviceID)
	}

	s.logger.Info("reading ingested",
		"device_id", deviceID,
		"reading_id", persisted.ID,
		"timestamp", timestamp)
	s.metrics.ingested(time.Since(start).Seconds())

	s.broadcast(ctx, persisted)
	return persisted, nil
}

func (s *Service) authenticate(deviceID, apiKey string) error {
	if apiKey == "" {
		s.logger.Warn("ingestion attempt without api key", "device_id", deviceID)
		return errors.NewAuthenticationFailed()
	}
	if _, ok := s.apiKeys[apiKey]; !ok {
		s.logger.Warn("ingestion attempt with invalid api key", "device_id", deviceID)
		return errors.NewAuthenticationFailed()
	}
	return nil
}

// broadcast pushes the reading to the device topic and the wildcard topic.
func (s *Service) broadcast(ctx context.Context, reading types.Reading) {
	if s.broadcaster == nil {
		return
	}
	payload, err := realtime.EncodeReading(reading)
	if err != nil {
		s.logger.Warn("failed to encode reading for broadcast",
			"device_id", reading.DeviceID, "error", err)
		return
	}
	s.broadcaster.Broadcast(ctx, reading.DeviceID, payload)
	s.broadcaster.Broadcast(ctx, realtime.TopicAll, payload)
}

func (s *Service) reject(err error) error {
	s.metrics.rejected(errors.CodeOf(err))
	return err
}
