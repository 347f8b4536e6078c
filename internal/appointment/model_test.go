package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlapsHalfOpen(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2030, 1, 7, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name         string
		aStart, aEnd time.Time
		bStart, bEnd time.Time
		want         bool
	}{
		{"back to back after", at(10, 0), at(11, 0), at(11, 0), at(12, 0), false},
		{"back to back before", at(10, 0), at(11, 0), at(9, 0), at(10, 0), false},
		{"tail overlap", at(10, 0), at(11, 0), at(10, 30), at(11, 30), true},
		{"head overlap", at(10, 0), at(11, 0), at(9, 30), at(10, 30), true},
		{"containing", at(10, 0), at(11, 0), at(9, 0), at(12, 0), true},
		{"contained", at(10, 0), at(11, 0), at(10, 15), at(10, 45), true},
		{"identical", at(10, 0), at(11, 0), at(10, 0), at(11, 0), true},
		{"disjoint", at(10, 0), at(11, 0), at(13, 0), at(14, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
			assert.Equal(t, tt.want, Overlaps(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd), "symmetric")
		})
	}
}

func TestDayOfUsesUTC(t *testing.T) {
	// 23:30 Sunday in New York is 04:30 Monday UTC.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	local := time.Date(2030, 1, 6, 23, 30, 0, 0, ny)
	assert.Equal(t, Monday, DayOf(local))
	assert.Equal(t, MustTimeOfDay("04:30"), ClockOf(local))
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(9*3600+30*60), got)
	assert.Equal(t, "09:30", got.String())

	got, err = ParseTimeOfDay("16:59:30")
	require.NoError(t, err)
	assert.Equal(t, "16:59:30", got.String())

	for _, bad := range []string{"", "9:00", "24:00", "12:60", "12", "aa:bb", "12:00:00:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestWindowCoversIsHalfOpen(t *testing.T) {
	w := WeeklyAvailability{Day: Monday, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:00")}

	assert.True(t, w.Covers(MustTimeOfDay("09:00")))
	assert.True(t, w.Covers(MustTimeOfDay("16:59")))
	assert.False(t, w.Covers(MustTimeOfDay("17:00")))
	assert.False(t, w.Covers(MustTimeOfDay("08:59:59")))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
