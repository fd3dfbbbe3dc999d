package types

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/c360/telemetry/errors"
)

// durationPattern matches relative duration strings like "24h", "7d", "30m", "2w".
var durationPattern = regexp.MustCompile(`^(\d+)([mhdw])$`)

// TimeRange is a validated start/end interval for historical queries.
// Start is strictly before End; both are UTC.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TimeRangeBetween creates a time range between two timestamps. Returns an
// INVALID_TIME_RANGE domain error if start is not before end.
func TimeRangeBetween(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, errors.NewInvalidTimeRange(fmt.Sprintf(
			"start time must be before end time: %s >= %s",
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)))
	}
	return TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

// TimeRangeLast creates a time range covering the last duration described by
// durationStr, ending at the current UTC time. Accepted formats are
// <number><unit> where unit is m(inutes), h(ours), d(ays) or w(eeks),
// e.g. "30m", "24h", "7d", "2w".
func TimeRangeLast(durationStr string) (TimeRange, error) {
	return TimeRangeLastAt(durationStr, time.Now().UTC())
}

// TimeRangeLastAt is TimeRangeLast with an explicit reference time. The
// reference time is the range end.
func TimeRangeLastAt(durationStr string, now time.Time) (TimeRange, error) {
	match := durationPattern.FindStringSubmatch(durationStr)
	if match == nil {
		return TimeRange{}, errors.NewInvalidTimeRange(fmt.Sprintf(
			"invalid duration format: %q (expected <number><unit> with unit m, h, d or w, e.g. \"24h\")",
			durationStr))
	}

	value, err := strconv.Atoi(match[1])
	if err != nil || value <= 0 {
		return TimeRange{}, errors.NewInvalidTimeRange(fmt.Sprintf(
			"duration must be a positive integer: %q", durationStr))
	}

	var delta time.Duration
	switch match[2] {
	case "m":
		delta = time.Duration(value) * time.Minute
	case "h":
		delta = time.Duration(value) * time.Hour
	case "d":
		delta = time.Duration(value) * 24 * time.Hour
	case "w":
		delta = time.Duration(value) * 7 * 24 * time.Hour
	}

	now = now.UTC()
	return TimeRange{Start: now.Add(-delta), End: now}, nil
}

// Duration returns the length of the range.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Contains reports whether t falls within the range (inclusive bounds).
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// String implements fmt.Stringer
func (tr TimeRange) String() string {
	return fmt.Sprintf("TimeRange(%s to %s)",
		tr.Start.Format(time.RFC3339), tr.End.Format(time.RFC3339))
}
