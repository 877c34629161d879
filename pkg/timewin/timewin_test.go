package timewin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

// 2026-08-22 is a Saturday.
func saturday(hour int) time.Time {
	return time.Date(2026, 8, 22, hour, 0, 0, 0, time.UTC)
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Weekday
		wantErr  bool
	}{
		{name: "full name", input: "Saturday", expected: time.Saturday},
		{name: "lower case", input: "wednesday", expected: time.Wednesday},
		{name: "abbreviation", input: "Tue", expected: time.Tuesday},
		{name: "garbage", input: "Blursday", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDay(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestContains(t *testing.T) {
	window := types.ScanWindow{Day: "Saturday", Start: "22:00:00", Duration: 10}

	tests := []struct {
		name string
		now  time.Time
		in   bool
	}{
		{name: "before start same day", now: saturday(21), in: false},
		{name: "just inside", now: saturday(23), in: true},
		{name: "next morning still inside", now: saturday(0).AddDate(0, 0, 1).Add(7 * time.Hour), in: true},
		{name: "after close", now: saturday(0).AddDate(0, 0, 1).Add(9 * time.Hour), in: false},
		{name: "exactly at start is outside", now: saturday(22), in: false},
		{name: "midweek", now: saturday(0).AddDate(0, 0, 3), in: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Contains(window, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestContainsWrapsWeek(t *testing.T) {
	// Window opens Friday night and runs 48h; Sunday morning is inside it
	// even though Sunday is two weekdays later.
	window := types.ScanWindow{Day: "Friday", Start: "20:00:00", Duration: 48}
	sundayMorning := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)

	got, err := Contains(window, sundayMorning)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestInWindows(t *testing.T) {
	windows := []types.ScanWindow{
		{Day: "Monday", Start: "09:00:00", Duration: 8},
		{Day: "Saturday", Start: "22:00:00", Duration: 10},
	}

	assert.True(t, InWindows(windows, saturday(23)))
	assert.False(t, InWindows(windows, saturday(12)))

	// the default window covers the entire week
	assert.True(t, InWindows([]types.ScanWindow{types.DefaultScanWindow}, saturday(12)))
}

func TestInWindowsSkipsMalformed(t *testing.T) {
	windows := []types.ScanWindow{
		{Day: "Noday", Start: "nope", Duration: 10},
		{Day: "Saturday", Start: "22:00:00", Duration: 10},
	}
	assert.True(t, InWindows(windows, saturday(23)))
}
