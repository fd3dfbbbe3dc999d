package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/c360/telemetry/errors"
)

// ResponseEnvelope is the uniform body of every API response. Data is set on
// success, Error and Code on failure.
type ResponseEnvelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, ResponseEnvelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func writeFailure(w http.ResponseWriter, status int, message, code string) {
	writeEnvelope(w, status, ResponseEnvelope{
		Success:   false,
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

// writeError maps a service error onto an HTTP status and envelope. Transport
// never exposes wrapped internals; only domain messages reach the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	message := "internal server error"
	code := errors.CodeOf(err)

	var de *errors.DomainError
	if errors.As(err, &de) {
		message = de.Message
	} else if errors.IsTransient(err) {
		message = "service temporarily unavailable"
	} else if errors.IsInvalid(err) {
		message = "invalid request"
	}

	writeFailure(w, status, message, code)
}

func statusForError(err error) int {
	switch errors.CodeOf(err) {
	case errors.CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case errors.CodeDeviceNotFound:
		return http.StatusNotFound
	case errors.CodeDeviceInactive:
		return http.StatusForbidden
	case errors.CodeInvalidPayload, errors.CodeInvalidTimeRange:
		return http.StatusBadRequest
	case errors.CodeDeviceExists:
		return http.StatusConflict
	}
	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeEnvelope(w http.ResponseWriter, status int, envelope ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
