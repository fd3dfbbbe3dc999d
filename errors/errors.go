// Package errors provides standardized error handling for telemetry components.
// It includes error classification, stable domain error codes for API surfaces,
// and helper functions for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and networking errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrConnectionClosed  = errors.New("connection closed")

	// Data processing errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Domain error codes are the stable machine-readable identifiers returned to
// API clients. They never change once published.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeDeviceNotFound       = "DEVICE_NOT_FOUND"
	CodeDeviceInactive       = "DEVICE_INACTIVE"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeInvalidTimeRange     = "INVALID_TIME_RANGE"
	CodeDeviceExists         = "DEVICE_EXISTS"
)

// DomainError is an error with a stable machine-readable code and a
// human-readable message, suitable for returning across API boundaries.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (de *DomainError) Error() string {
	return de.Message
}

// Unwrap returns the underlying error, if any
func (de *DomainError) Unwrap() error {
	return de.Err
}

// NewAuthenticationFailed reports a missing or invalid device credential.
// The core does not distinguish missing from invalid; that split belongs to
// the transport boundary.
func NewAuthenticationFailed() *DomainError {
	return &DomainError{
		Code:    CodeAuthenticationFailed,
		Message: "invalid or missing API key",
	}
}

// NewDeviceNotFound reports an unknown device identifier.
func NewDeviceNotFound(deviceID string) *DomainError {
	return &DomainError{
		Code:    CodeDeviceNotFound,
		Message: fmt.Sprintf("device not found: %s", deviceID),
		Err:     ErrNotFound,
	}
}

// NewDeviceInactive reports a deactivated device.
func NewDeviceInactive(deviceID string) *DomainError {
	return &DomainError{
		Code:    CodeDeviceInactive,
		Message: fmt.Sprintf("device is inactive: %s", deviceID),
	}
}

// NewInvalidPayload reports an ingestion payload that failed validation.
func NewInvalidPayload(msg string) *DomainError {
	return &DomainError{
		Code:    CodeInvalidPayload,
		Message: msg,
		Err:     ErrInvalidData,
	}
}

// NewDeviceExists reports a registration attempt for an id already taken.
func NewDeviceExists(deviceID string) *DomainError {
	return &DomainError{
		Code:    CodeDeviceExists,
		Message: fmt.Sprintf("device already exists: %s", deviceID),
	}
}

// NewInvalidTimeRange reports a malformed or inverted time range.
func NewInvalidTimeRange(msg string) *DomainError {
	return &DomainError{
		Code:    CodeInvalidTimeRange,
		Message: msg,
		Err:     ErrInvalidData,
	}
}

// Is reports whether any error in err's chain matches target. Re-exported so
// callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// CodeOf returns the domain error code for err, or empty string if err carries
// no DomainError in its chain.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsDomain reports whether err carries the given domain error code.
func IsDomain(err error, code string) bool {
	return CodeOf(err) == code
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) || errors.Is(err, ErrParsingFailed)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
