// Package natsingest bridges NATS to the ingestion pipeline. Field gateways
// publish readings to `<prefix>.<device_id>` subjects instead of HTTP; each
// message runs through the same validation pipeline as an HTTP ingest.
package natsingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/metric"
	"github.com/c360/telemetry/types"
)

const defaultSubjectPrefix = "telemetry.ingest"

// Ingester runs a reading through the ingestion pipeline. Satisfied by
// *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, deviceID string, metrics types.SensorMetrics, apiKey string) (types.Reading, error)
}

// Subscriber is the NATS subscription surface the bridge needs. Satisfied by
// *natsclient.Client.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) error
}

// payload is the wire format published by field gateways. The API key rides
// in the payload since NATS carries no headers the devices use.
type payload struct {
	APIKey  string              `json:"api_key"`
	Metrics types.SensorMetrics `json:"metrics"`
}

// Config configures the bridge.
type Config struct {
	// SubjectPrefix is the subject root; the bridge subscribes to
	// "<prefix>.>" and treats the remainder as the device id.
	SubjectPrefix string
	Logger        *slog.Logger
	Metrics       *metric.MetricsRegistry
}

// Bridge subscribes to reading subjects and feeds the ingestion pipeline.
// Rejected readings are logged and counted, never retried; NATS delivery
// here is fire-and-forget like the HTTP path.
type Bridge struct {
	subscriber Subscriber
	ingester   Ingester
	prefix     string
	logger     *slog.Logger
	metrics    *bridgeMetrics
	running    atomic.Bool
}

// NewBridge creates a bridge.
func NewBridge(subscriber Subscriber, ingester Ingester, cfg Config) (*Bridge, error) {
	if subscriber == nil || ingester == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "natsingest", "NewBridge",
			"subscriber and ingester required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		subscriber: subscriber,
		ingester:   ingester,
		prefix:     cfg.SubjectPrefix,
		logger:     cfg.Logger,
		metrics:    newBridgeMetrics(cfg.Metrics),
	}, nil
}

// Start subscribes to the reading subjects. The subscription lives until the
// underlying NATS client closes.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.Wrap(errors.ErrAlreadyStarted, "natsingest", "Start", "check state")
	}

	subject := b.prefix + ".>"
	if err := b.subscriber.Subscribe(ctx, subject, b.handleMessage); err != nil {
		b.running.Store(false)
		return errors.Wrap(err, "natsingest", "Start", "subscribe "+subject)
	}

	b.logger.Info("nats ingest bridge started", "subject", subject)
	return nil
}

// Running reports whether the bridge has been started.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

func (b *Bridge) handleMessage(ctx context.Context, subject string, data []byte) {
	b.metrics.received()

	deviceID, ok := b.deviceIDFromSubject(subject)
	if !ok {
		b.metrics.rejected("BAD_SUBJECT")
		b.logger.Warn("reading on malformed subject", "subject", subject)
		return
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		b.metrics.rejected(errors.CodeInvalidPayload)
		b.logger.Warn("undecodable reading payload", "device_id", deviceID, "error", err)
		return
	}

	if _, err := b.ingester.Ingest(ctx, deviceID, p.Metrics, p.APIKey); err != nil {
		code := errors.CodeOf(err)
		if code == "" {
			code = "INTERNAL"
		}
		b.metrics.rejected(code)
		b.logger.Warn("reading rejected", "device_id", deviceID, "code", code, "error", err)
		return
	}
	b.metrics.ingested()
}

// deviceIDFromSubject extracts the device id from "<prefix>.<device_id>".
// Subjects with extra tokens are rejected; device ids never contain dots.
func (b *Bridge) deviceIDFromSubject(subject string) (string, bool) {
	rest, found := strings.CutPrefix(subject, b.prefix+".")
	if !found || rest == "" || strings.Contains(rest, ".") {
		return "", false
	}
	return rest, true
}
