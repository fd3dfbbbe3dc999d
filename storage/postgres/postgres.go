// Package postgres provides PostgreSQL-backed implementations of the storage
// contracts using pgx connection pooling.
package postgres

import (
	"context"
	_ "embed"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/types"
)

//go:embed schema.sql
var schemaSQL string

// Connect opens a connection pool against the given PostgreSQL URL and
// verifies connectivity.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "postgres", "Connect", "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "postgres", "Connect", "create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "postgres", "Connect", "ping database")
	}
	return pool, nil
}

// Migrate applies the embedded schema. Statements are idempotent, so calling
// this on every startup is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return errors.WrapFatal(err, "postgres", "Migrate", "apply schema")
	}
	return nil
}

// DeviceStore is a PostgreSQL-backed storage.DeviceStore.
type DeviceStore struct {
	pool *pgxpool.Pool
}

// NewDeviceStore creates a device store over the given pool.
func NewDeviceStore(pool *pgxpool.Pool) *DeviceStore {
	return &DeviceStore{pool: pool}
}

// Create registers a new device.
func (s *DeviceStore) Create(ctx context.Context, device types.Device) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (id, device_id, name, api_key_hash, is_active, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		device.ID, device.DeviceID, device.Name, device.APIKeyHash,
		device.IsActive, device.CreatedAt, device.LastSeenAt)
	if err != nil {
		return errors.WrapTransient(err, "DeviceStore", "Create", "insert device")
	}
	return nil
}

// GetByDeviceID returns the device with the given human-readable id.
func (s *DeviceStore) GetByDeviceID(ctx context.Context, deviceID string) (*types.Device, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, device_id, name, api_key_hash, is_active, created_at, last_seen_at
		 FROM devices WHERE device_id = $1`, deviceID)

	var device types.Device
	err := row.Scan(&device.ID, &device.DeviceID, &device.Name, &device.APIKeyHash,
		&device.IsActive, &device.CreatedAt, &device.LastSeenAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrNotFound, "DeviceStore", "GetByDeviceID", "lookup "+deviceID)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "DeviceStore", "GetByDeviceID", "query device")
	}
	return &device, nil
}

// Exists reports whether a device with the given id is registered.
func (s *DeviceStore) Exists(ctx context.Context, deviceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM devices WHERE device_id = $1)`, deviceID).Scan(&exists)
	if err != nil {
		return false, errors.WrapTransient(err, "DeviceStore", "Exists", "query device")
	}
	return exists, nil
}

// UpdateLastSeen records the timestamp of the device's most recent reading.
func (s *DeviceStore) UpdateLastSeen(ctx context.Context, deviceID string, timestamp time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET last_seen_at = $2 WHERE device_id = $1`,
		deviceID, timestamp.UTC())
	if err != nil {
		return errors.WrapTransient(err, "DeviceStore", "UpdateLastSeen", "update device")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(errors.ErrNotFound, "DeviceStore", "UpdateLastSeen", "lookup "+deviceID)
	}
	return nil
}

// Deactivate marks a device inactive.
func (s *DeviceStore) Deactivate(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET is_active = FALSE WHERE device_id = $1`,
		deviceID)
	if err != nil {
		return errors.WrapTransient(err, "DeviceStore", "Deactivate", "update device")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(errors.ErrNotFound, "DeviceStore", "Deactivate", "lookup "+deviceID)
	}
	return nil
}

// GetAll returns all devices, optionally including deactivated ones.
func (s *DeviceStore) GetAll(ctx context.Context, includeInactive bool) ([]types.Device, error) {
	query := `SELECT id, device_id, name, api_key_hash, is_active, created_at, last_seen_at
		 FROM devices`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY device_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.WrapTransient(err, "DeviceStore", "GetAll", "query devices")
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var device types.Device
		if err := rows.Scan(&device.ID, &device.DeviceID, &device.Name, &device.APIKeyHash,
			&device.IsActive, &device.CreatedAt, &device.LastSeenAt); err != nil {
			return nil, errors.WrapTransient(err, "DeviceStore", "GetAll", "scan device")
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "DeviceStore", "GetAll", "iterate devices")
	}
	return devices, nil
}

// ReadingStore is a PostgreSQL-backed storage.ReadingStore.
type ReadingStore struct {
	pool *pgxpool.Pool
}

// NewReadingStore creates a reading store over the given pool.
func NewReadingStore(pool *pgxpool.Pool) *ReadingStore {
	return &ReadingStore{pool: pool}
}

// Create persists a reading.
func (s *ReadingStore) Create(ctx context.Context, reading types.Reading) (types.Reading, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO readings (id, device_id, timestamp, temperature, humidity, voltage)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		reading.ID, reading.DeviceID, reading.Timestamp,
		reading.Metrics.Temperature, reading.Metrics.Humidity, reading.Metrics.Voltage)
	if err != nil {
		return types.Reading{}, errors.WrapTransient(err, "ReadingStore", "Create", "insert reading")
	}
	return reading, nil
}

// GetLatest returns the most recent reading for a device, or nil if none.
func (s *ReadingStore) GetLatest(ctx context.Context, deviceID string) (*types.Reading, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, device_id, timestamp, temperature, humidity, voltage
		 FROM readings WHERE device_id = $1
		 ORDER BY timestamp DESC LIMIT 1`, deviceID)

	reading, err := scanReading(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "ReadingStore", "GetLatest", "query reading")
	}
	return &reading, nil
}

// GetHistory returns readings within the time range, most recent first.
func (s *ReadingStore) GetHistory(
	ctx context.Context, deviceID string, tr types.TimeRange, limit int,
) ([]types.Reading, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, device_id, timestamp, temperature, humidity, voltage
		 FROM readings
		 WHERE device_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp DESC
		 LIMIT NULLIF($4, 0)`,
		deviceID, tr.Start, tr.End, limit)
	if err != nil {
		return nil, errors.WrapTransient(err, "ReadingStore", "GetHistory", "query readings")
	}
	defer rows.Close()

	var readings []types.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, errors.WrapTransient(err, "ReadingStore", "GetHistory", "scan reading")
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "ReadingStore", "GetHistory", "iterate readings")
	}
	return readings, nil
}

// GetStats computes aggregate statistics over the time range in a single
// round trip; the (device_id, timestamp) index keeps the range scan cheap.
func (s *ReadingStore) GetStats(
	ctx context.Context, deviceID string, tr types.TimeRange,
) (storage.StatsResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        MIN(temperature), MAX(temperature), AVG(temperature),
		        MIN(humidity), MAX(humidity), AVG(humidity),
		        MIN(voltage), MAX(voltage), AVG(voltage)
		 FROM readings
		 WHERE device_id = $1 AND timestamp >= $2 AND timestamp <= $3`,
		deviceID, tr.Start, tr.End)

	var (
		count            int
		tMin, tMax, tAvg *float64
		hMin, hMax, hAvg *float64
		vMin, vMax, vAvg *float64
	)
	if err := row.Scan(&count, &tMin, &tMax, &tAvg, &hMin, &hMax, &hAvg, &vMin, &vMax, &vAvg); err != nil {
		return storage.StatsResult{}, errors.WrapTransient(err, "ReadingStore", "GetStats", "aggregate readings")
	}

	return storage.StatsResult{
		DeviceID:     deviceID,
		Range:        tr,
		ReadingCount: count,
		Temperature:  metricStats(tMin, tMax, tAvg),
		Humidity:     metricStats(hMin, hMax, hAvg),
		Voltage:      metricStats(vMin, vMax, vAvg),
	}, nil
}

// CountByDevice returns the total number of readings for a device.
func (s *ReadingStore) CountByDevice(ctx context.Context, deviceID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM readings WHERE device_id = $1`, deviceID).Scan(&count)
	if err != nil {
		return 0, errors.WrapTransient(err, "ReadingStore", "CountByDevice", "count readings")
	}
	return count, nil
}

func metricStats(min, max, avg *float64) *storage.MetricStats {
	if min == nil || max == nil || avg == nil {
		return nil
	}
	return &storage.MetricStats{Min: *min, Max: *max, Avg: *avg}
}

func scanReading(row pgx.Row) (types.Reading, error) {
	var reading types.Reading
	err := row.Scan(&reading.ID, &reading.DeviceID, &reading.Timestamp,
		&reading.Metrics.Temperature, &reading.Metrics.Humidity, &reading.Metrics.Voltage)
	return reading, err
}

// Interface compliance checks
var _ storage.DeviceStore = (*DeviceStore)(nil)
var _ storage.ReadingStore = (*ReadingStore)(nil)
