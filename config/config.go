// Package config loads and validates the telemetry backend settings. Settings
// come from an optional JSON file with environment variable overrides under
// the TELEMETRY_ prefix; every field has a usable default for local dev.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "TELEMETRY"

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Ingest    IngestConfig    `json:"ingest"`
	Aggregate AggregateConfig `json:"aggregate"`
	Stream    StreamConfig    `json:"stream"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL selects
// the in-memory stores (dev mode).
type DatabaseConfig struct {
	URL      string `json:"url,omitempty"`
	MaxConns int    `json:"max_conns,omitempty"`
}

// IngestConfig holds ingestion credentials.
type IngestConfig struct {
	// APIKeys are the device credentials accepted on ingest.
	APIKeys []string `json:"api_keys,omitempty"`
	// AdminAPIKey guards device registration and deactivation.
	AdminAPIKey string `json:"admin_api_key,omitempty"`
}

// AggregateConfig tunes the aggregation service.
type AggregateConfig struct {
	CacheTTL            time.Duration `json:"cache_ttl,omitempty"`
	HistoryDefaultLimit int           `json:"history_default_limit,omitempty"`
}

// StreamConfig tunes the WebSocket streaming endpoints.
type StreamConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty"`
	SendTimeout       time.Duration `json:"send_timeout,omitempty"`
}

// NATSConfig holds the optional NATS ingest bridge settings.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Validate checks the configuration for contradictions and missing required
// values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.MaxConns < 0 {
		return errors.New("database.max_conns cannot be negative")
	}
	if c.Aggregate.CacheTTL < 0 {
		return errors.New("aggregate.cache_ttl cannot be negative")
	}
	if c.Aggregate.HistoryDefaultLimit < 0 {
		return errors.New("aggregate.history_default_limit cannot be negative")
	}
	if c.Stream.HeartbeatInterval < 0 || c.Stream.SendTimeout < 0 {
		return errors.New("stream intervals cannot be negative")
	}
	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when the bridge is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	for i, key := range c.Ingest.APIKeys {
		if key == "" {
			return fmt.Errorf("ingest.api_keys[%d] is empty", i)
		}
	}
	return nil
}

// Loader loads configuration from an optional file plus the environment.
type Loader struct {
	path      string
	envPrefix string
}

// NewLoader creates a loader. An empty path means defaults + env only.
func NewLoader(path string) *Loader {
	return &Loader{path: path, envPrefix: envPrefix}
}

// Load builds the effective configuration: defaults, then the JSON file if
// one was given, then environment overrides, then validation.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	if l.path != "" {
		raw, err := l.loadRawJSON(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", l.path, err)
		}
		cfg, err = merge(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", l.path, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Aggregate: AggregateConfig{
			CacheTTL:            60 * time.Second,
			HistoryDefaultLimit: 1000,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 30 * time.Second,
			SendTimeout:       10 * time.Second,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "telemetry.ingest",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// loadRawJSON reads a config file into a map, converting duration strings to
// nanoseconds so they unmarshal into time.Duration fields.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	parseDurations(raw)
	return raw, nil
}

// parseDurations converts duration strings like "60s" to nanoseconds in the
// sections that carry time.Duration fields.
func parseDurations(raw map[string]any) {
	convert := func(section map[string]any, keys ...string) {
		for _, key := range keys {
			if s, ok := section[key].(string); ok {
				if d, err := time.ParseDuration(s); err == nil {
					section[key] = d.Nanoseconds()
				}
			}
		}
	}
	if agg, ok := raw["aggregate"].(map[string]any); ok {
		convert(agg, "cache_ttl")
	}
	if stream, ok := raw["stream"].(map[string]any); ok {
		convert(stream, "heartbeat_interval", "send_timeout")
	}
	if nats, ok := raw["nats"].(map[string]any); ok {
		convert(nats, "reconnect_wait")
	}
}

// merge overlays the raw file map onto base, keeping base values for absent
// keys.
func merge(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies TELEMETRY_* environment variables on top of the
// loaded configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	env := func(name string) string { return os.Getenv(l.envPrefix + "_" + name) }

	if val := env("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := env("SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
	if val := env("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := env("DATABASE_MAX_CONNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Database.MaxConns = n
		}
	}
	if val := env("DEVICE_API_KEYS"); val != "" {
		cfg.Ingest.APIKeys = splitNonEmpty(val)
	}
	if val := env("ADMIN_API_KEY"); val != "" {
		cfg.Ingest.AdminAPIKey = val
	}
	if val := env("CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Aggregate.CacheTTL = d
		}
	}
	if val := env("HISTORY_DEFAULT_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Aggregate.HistoryDefaultLimit = n
		}
	}
	if val := env("WS_HEARTBEAT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Stream.HeartbeatInterval = d
		}
	}
	if val := env("NATS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.NATS.Enabled = b
		}
	}
	if val := env("NATS_URLS"); val != "" {
		cfg.NATS.URLs = splitNonEmpty(val)
	}
	if val := env("METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if val := env("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func splitNonEmpty(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
