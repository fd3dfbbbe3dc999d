package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetry/errors"
)

func TestTimeRangeLastAt(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		duration  string
		wantStart time.Time
	}{
		{"24h", time.Date(2024, 1, 14, 12, 0, 0, 0, time.UTC)},
		{"30m", time.Date(2024, 1, 15, 11, 30, 0, 0, time.UTC)},
		{"7d", time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)},
		{"2w", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"1h", time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.duration, func(t *testing.T) {
			tr, err := TimeRangeLastAt(tt.duration, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, tr.Start)
			assert.Equal(t, now, tr.End)
		})
	}
}

func TestTimeRangeLastAt_Invalid(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []string{"bad", "", "24", "h", "24x", "-5h", "1.5h", "0h"}

	for _, duration := range tests {
		t.Run(duration, func(t *testing.T) {
			_, err := TimeRangeLastAt(duration, now)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidTimeRange, errors.CodeOf(err))
		})
	}
}

func TestTimeRangeBetween(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tr, err := TimeRangeBetween(start, end)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, tr.Duration())
}

func TestTimeRangeBetween_StartNotBeforeEnd(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := TimeRangeBetween(ts, ts)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidTimeRange, errors.CodeOf(err))

	_, err = TimeRangeBetween(ts.Add(time.Hour), ts)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidTimeRange, errors.CodeOf(err))
}

func TestTimeRange_Contains(t *testing.T) {
	tr, err := TimeRangeBetween(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	assert.True(t, tr.Contains(tr.Start))
	assert.True(t, tr.Contains(tr.End))
	assert.True(t, tr.Contains(tr.Start.Add(12*time.Hour)))
	assert.False(t, tr.Contains(tr.Start.Add(-time.Second)))
	assert.False(t, tr.Contains(tr.End.Add(time.Second)))
}

func TestTimeRangeLast_UsesCurrentTime(t *testing.T) {
	before := time.Now().UTC()
	tr, err := TimeRangeLast("1h")
	after := time.Now().UTC()

	require.NoError(t, err)
	assert.False(t, tr.End.Before(before))
	assert.False(t, tr.End.After(after))
	assert.Equal(t, time.Hour, tr.Duration())
}
