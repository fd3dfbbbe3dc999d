// Package http is the REST gateway: device management, reading ingestion,
// history and statistics queries, and the WebSocket stream endpoints.
package http

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/c360/telemetry/aggregate"
	"github.com/c360/telemetry/device"
	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/health"
	"github.com/c360/telemetry/ingest"
	"github.com/c360/telemetry/metric"
	"github.com/c360/telemetry/realtime"
)

const (
	defaultMaxRequestSize  = 1 << 20 // 1 MiB
	defaultShutdownTimeout = 10 * time.Second
)

// Config configures the gateway server.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8000".
	Addr string
	// AdminAPIKey guards device registration and deactivation. Empty
	// disables the admin endpoints entirely.
	AdminAPIKey    string
	MaxRequestSize int64
	EnableCORS     bool
	CORSOrigins    []string
	// Health aggregates dependency checks for the health endpoint. Nil
	// means the endpoint reports ok unconditionally.
	Health  *health.Monitor
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// Server serves the REST API over the domain services.
type Server struct {
	devices   *device.Service
	aggregate *aggregate.Service
	ingest    *ingest.Service
	stream    *realtime.StreamHandler

	adminKey    string
	maxBody     int64
	enableCORS  bool
	corsOrigins []string
	health      *health.Monitor
	logger      *slog.Logger
	metrics     *serverMetrics

	httpServer *http.Server
}

// NewServer builds the gateway over the given services.
func NewServer(devices *device.Service, agg *aggregate.Service, ing *ingest.Service, stream *realtime.StreamHandler, cfg Config) (*Server, error) {
	if devices == nil || agg == nil || ing == nil || stream == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "gateway", "NewServer",
			"all services required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		devices:     devices,
		aggregate:   agg,
		ingest:      ing,
		stream:      stream,
		adminKey:    cfg.AdminAPIKey,
		maxBody:     cfg.MaxRequestSize,
		enableCORS:  cfg.EnableCORS,
		corsOrigins: cfg.CORSOrigins,
		health:      cfg.Health,
		logger:      cfg.Logger,
		metrics:     newServerMetrics(cfg.Metrics),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)

	mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/v1/devices", s.requireAdmin(s.handleRegisterDevice))
	mux.HandleFunc("GET /api/v1/devices/{device_id}", s.handleGetDevice)
	mux.HandleFunc("DELETE /api/v1/devices/{device_id}", s.requireAdmin(s.handleDeactivateDevice))
	mux.HandleFunc("GET /api/v1/devices/{device_id}/latest", s.handleLatestReading)
	mux.HandleFunc("GET /api/v1/devices/{device_id}/stats", s.handleDeviceStats)
	mux.HandleFunc("GET /api/v1/devices/{device_id}/history", s.handleDeviceHistory)

	mux.HandleFunc("GET /api/v1/stream/devices/{device_id}", s.stream.ServeDevice)
	mux.HandleFunc("GET /api/v1/stream/all", s.stream.ServeAll)

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	return s.withMiddleware(mux)
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "gateway", "Start", "listen "+s.httpServer.Addr)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

// withMiddleware wraps the mux with request id, CORS, logging and metrics.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := requestIDFrom(r)
		w.Header().Set("X-Request-ID", requestID)

		if s.enableCORS {
			s.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.requestDone(r.Method, r.URL.Path, rec.status, elapsed.Seconds())
		s.logger.Debug("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

// requireAdmin guards an endpoint with the admin API key. A missing key is
// 401, a wrong one 403. With no admin key configured the endpoint is closed.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			writeFailure(w, http.StatusForbidden, "admin endpoints are disabled", errors.CodeAuthenticationFailed)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeFailure(w, http.StatusUnauthorized, "missing admin API key", errors.CodeAuthenticationFailed)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			writeFailure(w, http.StatusForbidden, "invalid admin API key", errors.CodeAuthenticationFailed)
			return
		}
		next(w, r)
	}
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// requestIDFrom extracts the X-Request-ID header or generates 8 random bytes
// of hex so every log line is correlatable.
func requestIDFrom(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack forwards to the underlying writer so the stream endpoints can
// upgrade to WebSocket through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
