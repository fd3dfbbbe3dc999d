// Package telemetry is an IoT telemetry backend. Devices register once,
// authenticate with API keys, and push sensor readings (temperature,
// humidity, voltage) over HTTP or NATS. The backend persists readings as an
// append-only time series, answers history and statistics queries through a
// TTL cache, and fans live readings out to WebSocket subscribers.
//
// Package layout:
//
//   - types: core domain types (Device, Reading, SensorMetrics, TimeRange)
//   - storage: store interfaces with in-memory and PostgreSQL backends
//   - device: registration, API key issuance, deactivation
//   - ingest: the validation and persistence pipeline for readings
//   - aggregate: history queries and cached statistics
//   - realtime: the WebSocket connection registry and stream endpoints
//   - gateway/http: the REST API surface
//   - input/natsingest: the optional NATS ingestion bridge
//   - cmd/telemetryd: the server binary
package telemetry
