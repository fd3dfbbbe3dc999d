// Package main implements the entry point for the telemetry backend. The
// backend registers IoT devices, ingests their sensor readings over HTTP and
// NATS, serves history and statistics queries, and streams live readings to
// WebSocket subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/c360/telemetry/aggregate"
	"github.com/c360/telemetry/config"
	"github.com/c360/telemetry/device"
	gatewayhttp "github.com/c360/telemetry/gateway/http"
	"github.com/c360/telemetry/health"
	"github.com/c360/telemetry/ingest"
	"github.com/c360/telemetry/input/natsingest"
	"github.com/c360/telemetry/metric"
	"github.com/c360/telemetry/natsclient"
	"github.com/c360/telemetry/realtime"
	"github.com/c360/telemetry/storage"
	"github.com/c360/telemetry/storage/memory"
	"github.com/c360/telemetry/storage/postgres"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "telemetryd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting telemetry backend",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.NewLoader(cliCfg.ConfigPath).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	// Metrics endpoint
	var metricsRegistry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		metricsRegistry = metric.NewMetricsRegistry()
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(5 * time.Second) }()
		slog.Info("metrics endpoint up", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	monitor := health.NewMonitor()

	// Storage
	deviceStore, readingStore, cleanup, err := setupStorage(ctx, cfg, monitor)
	if err != nil {
		return err
	}
	defer cleanup()

	// Realtime fan-out
	registry := realtime.NewRegistry(realtime.RegistryConfig{
		SendTimeout: cfg.Stream.SendTimeout,
		Logger:      logger,
		Metrics:     metricsRegistry,
	})
	stream := realtime.NewStreamHandler(registry, realtime.StreamConfig{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		Logger:            logger,
	})

	// Domain services
	devices := device.NewService(deviceStore, logger)

	agg, err := aggregate.NewService(deviceStore, readingStore, aggregate.Config{
		CacheTTL:            cfg.Aggregate.CacheTTL,
		HistoryDefaultLimit: cfg.Aggregate.HistoryDefaultLimit,
		Logger:              logger,
		Metrics:             metricsRegistry,
	})
	if err != nil {
		return fmt.Errorf("create aggregation service: %w", err)
	}
	defer func() { _ = agg.Close() }()

	ing, err := ingest.NewService(deviceStore, readingStore, ingest.Config{
		APIKeys:     cfg.Ingest.APIKeys,
		Broadcaster: registry,
		Invalidator: agg,
		Logger:      logger,
		Metrics:     metricsRegistry,
	})
	if err != nil {
		return fmt.Errorf("create ingestion service: %w", err)
	}

	// Optional NATS ingest bridge
	if cfg.NATS.Enabled {
		natsClient, err := natsclient.NewClient(natsclient.Config{
			URLs:          cfg.NATS.URLs,
			Name:          appName,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = natsClient.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer func() { _ = natsClient.Close(ctx) }()

		bridge, err := natsingest.NewBridge(natsClient, ing, natsingest.Config{
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Logger:        logger,
			Metrics:       metricsRegistry,
		})
		if err != nil {
			return fmt.Errorf("create NATS ingest bridge: %w", err)
		}
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("start NATS ingest bridge: %w", err)
		}

		monitor.Register("nats", func(context.Context) health.Status {
			status := natsClient.Status()
			switch status {
			case natsclient.StatusConnected:
				return health.Healthy("nats")
			case natsclient.StatusReconnecting:
				return health.Degraded("nats", "reconnecting to broker")
			default:
				return health.Unhealthy("nats", status.String())
			}
		})
	}

	// HTTP gateway
	server, err := gatewayhttp.NewServer(devices, agg, ing, stream, gatewayhttp.Config{
		Addr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		AdminAPIKey: cfg.Ingest.AdminAPIKey,
		EnableCORS:  true,
		CORSOrigins: []string{"*"},
		Health:      monitor,
		Logger:      logger,
		Metrics:     metricsRegistry,
	})
	if err != nil {
		return fmt.Errorf("create HTTP gateway: %w", err)
	}

	return runWithSignalHandling(ctx, server, cliCfg.ShutdownTimeout)
}

// setupStorage selects PostgreSQL or the in-memory stores depending on
// whether a database URL is configured, and registers the matching health
// check.
func setupStorage(ctx context.Context, cfg *config.Config, monitor *health.Monitor) (storage.DeviceStore, storage.ReadingStore, func(), error) {
	if cfg.Database.URL == "" {
		slog.Info("no database configured, using in-memory stores")
		monitor.Register("storage", func(context.Context) health.Status {
			return health.Healthy("storage")
		})
		return memory.NewDeviceStore(), memory.NewReadingStore(), func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("connected to PostgreSQL", "max_conns", cfg.Database.MaxConns)

	monitor.Register("storage", func(ctx context.Context) health.Status {
		if err := pool.Ping(ctx); err != nil {
			return health.Unhealthy("storage", "database ping failed")
		}
		return health.Healthy("storage")
	})
	return postgres.NewDeviceStore(pool), postgres.NewReadingStore(pool), pool.Close, nil
}

// runWithSignalHandling serves until SIGINT or SIGTERM, then drains.
func runWithSignalHandling(ctx context.Context, server *gatewayhttp.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}
