// Package aggregate computes on-demand statistics and history views over the
// reading time series, with a TTL cache in front of the expensive aggregate
// queries. Raw readings are never mutated; every result is derived.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/metric"
	"github.com/c360/telemetry/pkg/cache"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/types"
)

const (
	defaultCacheTTL     = 60 * time.Second
	defaultHistoryLimit = 1000
	defaultRange        = "24h"
)

// Config configures the aggregation service.
type Config struct {
	// CacheTTL is how long computed stats stay fresh. Defaults to 60s.
	CacheTTL time.Duration
	// HistoryDefaultLimit caps history queries that pass no limit.
	HistoryDefaultLimit int
	Logger              *slog.Logger
	// Metrics enables cache instrumentation when non-nil.
	Metrics *metric.MetricsRegistry
}

// Service computes aggregations on sensor data: latest readings, min/max/avg
// statistics, history slices, and per-device summaries. Stats results are
// cached under "stats:<device_id>:<range>" keys for the configured TTL.
type Service struct {
	devices  storage.DeviceStore
	readings storage.ReadingStore
	cache    cache.Cache[storage.StatsResult]
	ttl      time.Duration
	limit    int
	logger   *slog.Logger
}

// NewService creates an aggregation service over the given stores.
func NewService(devices storage.DeviceStore, readings storage.ReadingStore, cfg Config) (*Service, error) {
	if devices == nil || readings == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "aggregate", "NewService",
			"stores must not be nil")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = defaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	statsCache, err := cache.NewTTL(cfg.CacheTTL,
		cache.WithMetrics[storage.StatsResult](cfg.Metrics, "aggregate"))
	if err != nil {
		return nil, errors.Wrap(err, "aggregate", "NewService", "create stats cache")
	}

	return &Service{
		devices:  devices,
		readings: readings,
		cache:    statsCache,
		ttl:      cfg.CacheTTL,
		limit:    cfg.HistoryDefaultLimit,
		logger:   cfg.Logger,
	}, nil
}

// GetLatestReading returns the most recent reading for a device, or nil when
// the device has no readings yet. Latest readings are not cached; they change
// on every ingest.
func (s *Service) GetLatestReading(ctx context.Context, deviceID string) (*types.Reading, error) {
	return s.readings.GetLatest(ctx, deviceID)
}

// GetDeviceStats returns min/max/avg aggregates for a device over a relative
// range such as "15m", "24h" or "7d". An empty range defaults to 24h. Results
// are served from cache while fresh; a failed computation is never cached.
func (s *Service) GetDeviceStats(ctx context.Context, deviceID, rangeStr string) (storage.StatsResult, error) {
	if rangeStr == "" {
		rangeStr = defaultRange
	}
	tr, err := types.TimeRangeLast(rangeStr)
	if err != nil {
		return storage.StatsResult{}, err
	}

	key := fmt.Sprintf("stats:%s:%s", deviceID, rangeStr)
	return cache.GetOrCompute(ctx, s.cache, key, s.ttl,
		func(ctx context.Context) (storage.StatsResult, error) {
			stats, err := s.readings.GetStats(ctx, deviceID, tr)
			if err != nil {
				return storage.StatsResult{}, err
			}
			s.logger.Debug("computed device stats",
				"device_id", deviceID,
				"range", rangeStr,
				"reading_count", stats.ReadingCount)
			return stats, nil
		})
}

// HistoryQuery selects a slice of a device's readings. Either Range or
// Start/End may be set; when both are empty the last 24 hours are returned.
type HistoryQuery struct {
	// Range is a relative duration string like "24h". Takes precedence over
	// Start/End when set.
	Range string
	Start time.Time
	End   time.Time
	// Limit caps the result. Zero means the service default.
	Limit int
}

// GetHistory returns readings for a device within the queried window, most
// recent first.
func (s *Service) GetHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]types.Reading, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.limit
	}

	var (
		tr  types.TimeRange
		err error
	)
	switch {
	case q.Range != "":
		tr, err = types.TimeRangeLast(q.Range)
	case !q.Start.IsZero():
		end := q.End
		if end.IsZero() {
			end = time.Now().UTC()
		}
		tr, err = types.TimeRangeBetween(q.Start, end)
	default:
		tr, err = types.TimeRangeLast(defaultRange)
	}
	if err != nil {
		return nil, err
	}

	readings, err := s.readings.GetHistory(ctx, deviceID, tr, limit)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate", "GetHistory", "fetch readings")
	}
	s.logger.Debug("fetched device history",
		"device_id", deviceID,
		"reading_count", len(readings),
		"limit", limit)
	return readings, nil
}

// GetAllDevicesSummary returns each device with its reading count and latest
// reading, for dashboard listings. Deactivated devices are skipped unless
// includeInactive is set.
func (s *Service) GetAllDevicesSummary(ctx context.Context, includeInactive bool) ([]types.DeviceSummary, error) {
	devices, err := s.devices.GetAll(ctx, includeInactive)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate", "GetAllDevicesSummary", "list devices")
	}

	summaries := make([]types.DeviceSummary, 0, len(devices))
	for _, device := range devices {
		latest, err := s.readings.GetLatest(ctx, device.DeviceID)
		if err != nil {
			return nil, errors.Wrap(err, "aggregate", "GetAllDevicesSummary", "fetch latest reading")
		}
		count, err := s.readings.CountByDevice(ctx, device.DeviceID)
		if err != nil {
			return nil, errors.Wrap(err, "aggregate", "GetAllDevicesSummary", "count readings")
		}
		summaries = append(summaries, types.DeviceSummary{
			Device:        device,
			ReadingCount:  count,
			LatestReading: latest,
		})
	}
	return summaries, nil
}

// Invalidate drops cached aggregations. With a device id it removes only that
// device's entries; with an empty id it clears the whole cache.
func (s *Service) Invalidate(deviceID string) {
	if deviceID == "" {
		_ = s.cache.Clear()
		return
	}
	for _, key := range s.cache.Keys() {
		if strings.Contains(key, deviceID) {
			_, _ = s.cache.Delete(key)
		}
	}
}

// CacheStats exposes the stats cache counters.
func (s *Service) CacheStats() *cache.Statistics {
	return s.cache.Stats()
}

// Close releases the stats cache.
func (s *Service) Close() error {
	return s.cache.Close()
}
