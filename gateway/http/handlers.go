package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/telemetry/aggregate"
	"github.com/c360/telemetry/errors"
	"github.com/c360/telemetry/health"
	"github.com/c360/telemetry/types"
)

const (
	historyLimitMax   = 10000
	apiKeyNoticeOnce  = "Store this API key securely. It will not be shown again."
	defaultStatsRange = "24h"
)

type ingestRequest struct {
	DeviceID string              `json:"device_id"`
	Metrics  types.SensorMetrics `json:"metrics"`
}

type registerRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type registrationResponse struct {
	Device  types.Device `json:"device"`
	APIKey  string       `json:"api_key"`
	Message string       `json:"message"`
}

// handleIngest accepts a sensor reading. The device authenticates with the
// X-API-Key header; client timestamps in the payload are ignored.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeFailure(w, http.StatusBadRequest, "device_id is required", errors.CodeInvalidPayload)
		return
	}

	reading, err := s.ingest.Ingest(r.Context(), req.DeviceID, req.Metrics, r.Header.Get("X-API-Key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, reading)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	summaries, err := s.aggregate.GetAllDevicesSummary(r.Context(), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, summaries)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	reg, err := s.devices.Register(r.Context(), req.DeviceID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, registrationResponse{
		Device:  reg.Device,
		APIKey:  reg.APIKey,
		Message: apiKeyNoticeOnce,
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.Get(r.Context(), r.PathValue("device_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, dev)
}

func (s *Server) handleDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if err := s.devices.Deactivate(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"is_active": false,
	})
}

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if _, err := s.devices.Get(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}

	latest, err := s.aggregate.GetLatestReading(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	// latest is null when the device has no readings yet
	writeSuccess(w, http.StatusOK, latest)
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if _, err := s.devices.Get(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}

	rangeStr := r.URL.Query().Get("range")
	if rangeStr == "" {
		rangeStr = defaultStatsRange
	}
	stats, err := s.aggregate.GetDeviceStats(r.Context(), deviceID, rangeStr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if _, err := s.devices.Get(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}

	query, ok := s.parseHistoryQuery(w, r)
	if !ok {
		return
	}
	readings, err := s.aggregate.GetHistory(r.Context(), deviceID, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, readings)
}

// parseHistoryQuery reads range, start, end and limit query parameters. An
// explicit start takes precedence over the relative range.
func (s *Server) parseHistoryQuery(w http.ResponseWriter, r *http.Request) (aggregate.HistoryQuery, bool) {
	q := aggregate.HistoryQuery{Range: r.URL.Query().Get("range")}

	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "start must be an RFC 3339 timestamp", errors.CodeInvalidPayload)
			return q, false
		}
		q.Start = start
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "end must be an RFC 3339 timestamp", errors.CodeInvalidPayload)
			return q, false
		}
		q.End = end
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > historyLimitMax {
			writeFailure(w, http.StatusBadRequest, "limit must be between 1 and 10000", errors.CodeInvalidPayload)
			return q, false
		}
		q.Limit = limit
	}
	return q, true
}

// handleHealth reports aggregated dependency health. Degraded still answers
// 200 so load balancers keep routing; only unhealthy returns 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeSuccess(w, http.StatusOK, health.Healthy("system"))
		return
	}
	overall := s.health.Overall(r.Context())
	status := http.StatusOK
	if overall.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeSuccess(w, status, overall)
}

// decodeBody decodes a JSON request body with the configured size cap.
// Returns false after writing the error response.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large", errors.CodeInvalidPayload)
			return false
		}
		writeFailure(w, http.StatusBadRequest, "invalid JSON body", errors.CodeInvalidPayload)
		return false
	}
	return true
}
