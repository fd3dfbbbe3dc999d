// Package device handles device lifecycle: registration with API key
// generation, lookup, listing, and deactivation.
package device

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/types"
)

// Device ids are the stable identifiers used in routes and NATS subjects, so
// the grammar stays conservative.
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Registration is the result of registering a device. APIKey is the raw
// credential; it is returned exactly once and only its hash is stored.
type Registration struct {
	Device types.Device `json:"device"`
	APIKey string       `json:"api_key"`
}

// Service manages registered devices.
type Service struct {
	devices storage.DeviceStore
	logger  *slog.Logger
}

// NewService creates a device service over the given store.
func NewService(devices storage.DeviceStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{devices: devices, logger: logger}
}

// Register creates a new device and generates its API key.
func (s *Service) Register(ctx context.Context, deviceID, name string) (Registration, error) {
	if !deviceIDPattern.MatchString(deviceID) {
		return Registration{}, errors.NewInvalidPayload(
			"device_id must be 1-64 characters: letters, digits, underscore, hyphen")
	}

	exists, err := s.devices.Exists(ctx, deviceID)
	if err != nil {
		return Registration{}, errors.Wrap(err, "device", "Register", "check existing device")
	}
	if exists {
		return Registration{}, errors.NewDeviceExists(deviceID)
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return Registration{}, errors.Wrap(err, "device", "Register", "generate api key")
	}

	dev := types.Device{
		ID:         uuid.New(),
		DeviceID:   deviceID,
		Name:       name,
		APIKeyHash: HashAPIKey(apiKey),
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.devices.Create(ctx, dev); err != nil {
		return Registration{}, errors.Wrap(err, "device", "Register", "persist device")
	}

	s.logger.Info("device registered", "device_id", deviceID)
	return Registration{Device: dev, APIKey: apiKey}, nil
}

// Get returns a device by its human-readable id.
func (s *Service) Get(ctx context.Context, deviceID string) (*types.Device, error) {
	dev, err := s.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewDeviceNotFound(deviceID)
		}
		return nil, errors.Wrap(err, "device", "Get", "fetch device")
	}
	return dev, nil
}

// List returns all devices, optionally including deactivated ones.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]types.Device, error) {
	return s.devices.GetAll(ctx, includeInactive)
}

// Deactivate marks a device inactive so it can no longer submit readings.
func (s *Service) Deactivate(ctx context.Context, deviceID string) error {
	if err := s.devices.Deactivate(ctx, deviceID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.NewDeviceNotFound(deviceID)
		}
		return errors.Wrap(err, "device", "Deactivate", "update device")
	}
	s.logger.Info("device deactivated", "device_id", deviceID)
	return nil
}

// generateAPIKey returns a 32-byte random key, URL-safe base64 encoded.
func generateAPIKey() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashAPIKey returns the hex-encoded SHA-256 of a raw API key. Only hashes
// are persisted.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
