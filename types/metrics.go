// Package types contains shared domain types used across the telemetry platform
package types

import (
	"fmt"
	"strings"

	"github.com/c360/telemetry/errors"
)

// Physical constraints for sensor validation. Readings outside these bounds
// indicate sensor malfunction or transmission corruption and are rejected.
const (
	TempMin     = -40.0
	TempMax     = 85.0
	HumidityMin = 0.0
	HumidityMax = 100.0
	VoltageMin  = 0.0
	VoltageMax  = 24.0
)

// SensorMetrics is an immutable bundle of sensor measurements with explicit
// units: temperature in degrees Celsius, humidity as relative percentage,
// voltage in volts. All fields are optional to support partial readings from
// devices that do not carry every sensor; at least one must be present for a
// reading to be ingestible.
type SensorMetrics struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
}

// NewSensorMetrics validates the given optional measurements and returns an
// immutable SensorMetrics value. Returns an INVALID_PAYLOAD domain error if
// any present value is outside its physical range.
func NewSensorMetrics(temperature, humidity, voltage *float64) (SensorMetrics, error) {
	m := SensorMetrics{
		Temperature: temperature,
		Humidity:    humidity,
		Voltage:     voltage,
	}
	if err := m.Validate(); err != nil {
		return SensorMetrics{}, err
	}
	return m, nil
}

// Validate checks all present metric values against their physical constraints.
func (m SensorMetrics) Validate() error {
	if m.Temperature != nil && (*m.Temperature < TempMin || *m.Temperature > TempMax) {
		return errors.NewInvalidPayload(fmt.Sprintf(
			"temperature must be between %g and %g C, got %g", TempMin, TempMax, *m.Temperature))
	}
	if m.Humidity != nil && (*m.Humidity < HumidityMin || *m.Humidity > HumidityMax) {
		return errors.NewInvalidPayload(fmt.Sprintf(
			"humidity must be between %g and %g%%, got %g", HumidityMin, HumidityMax, *m.Humidity))
	}
	if m.Voltage != nil && (*m.Voltage < VoltageMin || *m.Voltage > VoltageMax) {
		return errors.NewInvalidPayload(fmt.Sprintf(
			"voltage must be between %g and %gV, got %g", VoltageMin, VoltageMax, *m.Voltage))
	}
	return nil
}

// HasAnyMetric reports whether at least one measurement is present.
func (m SensorMetrics) HasAnyMetric() bool {
	return m.Temperature != nil || m.Humidity != nil || m.Voltage != nil
}

// ToMap converts the metrics to a map, excluding absent values.
func (m SensorMetrics) ToMap() map[string]float64 {
	result := make(map[string]float64, 3)
	if m.Temperature != nil {
		result["temperature"] = *m.Temperature
	}
	if m.Humidity != nil {
		result["humidity"] = *m.Humidity
	}
	if m.Voltage != nil {
		result["voltage"] = *m.Voltage
	}
	return result
}

// String implements fmt.Stringer
func (m SensorMetrics) String() string {
	parts := make([]string, 0, 3)
	if m.Temperature != nil {
		parts = append(parts, fmt.Sprintf("temp=%gC", *m.Temperature))
	}
	if m.Humidity != nil {
		parts = append(parts, fmt.Sprintf("humidity=%g%%", *m.Humidity))
	}
	if m.Voltage != nil {
		parts = append(parts, fmt.Sprintf("voltage=%gV", *m.Voltage))
	}
	if len(parts) == 0 {
		return "Metrics(empty)"
	}
	return fmt.Sprintf("Metrics(%s)", strings.Join(parts, ", "))
}

// Float64 returns a pointer to v. Convenience for building optional metrics.
func Float64(v float64) *float64 {
	return &v
}
