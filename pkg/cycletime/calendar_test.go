package cycletime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utcCalendar() Calendar {
	return DefaultCalendar().In(time.UTC)
}

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDefaultCalendar(t *testing.T) {
	cal := DefaultCalendar()

	assert.Len(t, cal.Days, 5)
	for _, day := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday} {
		w, ok := cal.Days[day]
		require.True(t, ok, "expected %s to be a working day", day)
		assert.Equal(t, 4*time.Hour, w.Start)
		assert.Equal(t, 19*time.Hour, w.End)
	}
	_, saturday := cal.Days[time.Saturday]
	_, sunday := cal.Days[time.Sunday]
	assert.False(t, saturday)
	assert.False(t, sunday)
}

func TestDiff(t *testing.T) {
	cal := utcCalendar()

	tests := []struct {
		name         string
		later        time.Time
		earlier      time.Time
		workingHours bool
		want         float64
		wantOK       bool
	}{
		{
			name:    "one day wall clock",
			later:   at("2024-01-02T00:00:00Z"),
			earlier: at("2024-01-01T00:00:00Z"),
			want:    1440,
			wantOK:  true,
		},
		{
			name:    "fractional minutes",
			later:   at("2024-01-01T01:30:30Z"),
			earlier: at("2024-01-01T00:00:00Z"),
			want:    90.5,
			wantOK:  true,
		},
		{
			name:    "equal instants",
			later:   at("2024-01-01T00:00:00Z"),
			earlier: at("2024-01-01T00:00:00Z"),
			want:    0,
			wantOK:  true,
		},
		{
			name:    "inverted by ten minutes is unknown",
			later:   at("2024-01-01T00:00:00Z"),
			earlier: at("2024-01-01T00:10:00Z"),
			wantOK:  false,
		},
		{
			name:    "inverted inside the same minute is zero",
			later:   at("2024-01-01T00:00:10Z"),
			earlier: at("2024-01-01T00:00:40Z"),
			want:    0,
			wantOK:  true,
		},
		{
			name:    "missing later",
			earlier: at("2024-01-01T00:00:00Z"),
			wantOK:  false,
		},
		{
			name:   "missing earlier",
			later:  at("2024-01-01T00:00:00Z"),
			wantOK: false,
		},
		{
			name:         "friday evening to monday morning skips the weekend",
			later:        at("2024-01-08T05:00:00Z"),
			earlier:      at("2024-01-05T18:00:00Z"),
			workingHours: true,
			want:         120,
			wantOK:       true,
		},
		{
			name:         "entirely outside working hours",
			later:        at("2024-01-02T03:00:00Z"),
			earlier:      at("2024-01-01T20:00:00Z"),
			workingHours: true,
			want:         0,
			wantOK:       true,
		},
		{
			name:         "full working day",
			later:        at("2024-01-02T00:00:00Z"),
			earlier:      at("2024-01-01T00:00:00Z"),
			workingHours: true,
			want:         900,
			wantOK:       true,
		},
		{
			name:         "partial minute is prorated",
			later:        at("2024-01-01T04:01:00Z"),
			earlier:      at("2024-01-01T03:59:30Z"),
			workingHours: true,
			want:         1,
			wantOK:       true,
		},
		{
			name:         "whole weekend counts nothing",
			later:        at("2024-01-07T23:59:00Z"),
			earlier:      at("2024-01-06T00:00:00Z"),
			workingHours: true,
			want:         0,
			wantOK:       true,
		},
		{
			name:         "working hours inverted is still unknown",
			later:        at("2024-01-01T05:00:00Z"),
			earlier:      at("2024-01-01T06:00:00Z"),
			workingHours: true,
			wantOK:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cal.Diff(tt.later, tt.earlier, tt.workingHours)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestDiffNonNegativeForOrderedPairs(t *testing.T) {
	cal := utcCalendar()
	base := at("2024-03-01T10:00:00Z")
	for _, offset := range []time.Duration{0, time.Second, time.Minute, 7 * time.Hour, 72 * time.Hour} {
		for _, working := range []bool{false, true} {
			got, ok := cal.Diff(base.Add(offset), base, working)
			require.True(t, ok)
			assert.GreaterOrEqual(t, got, 0.0)

			if offset >= time.Minute {
				_, ok = cal.Diff(base, base.Add(offset), working)
				assert.False(t, ok, "inverted pair offset=%s working=%v", offset, working)
			}
		}
	}
}

func TestDiffUsesCalendarLocation(t *testing.T) {
	// 03:00 UTC is 04:00 in a UTC+1 zone, so a working hour has already passed by 05:00 local.
	plusOne := time.FixedZone("UTC+1", 60*60)
	cal := DefaultCalendar().In(plusOne)

	got, ok := cal.Diff(at("2024-01-01T04:00:00Z"), at("2024-01-01T02:00:00Z"), true)
	require.True(t, ok)
	assert.InDelta(t, 60.0, got, 1e-9)
}

func TestConfigDiff(t *testing.T) {
	cfg := Config{Calendar: utcCalendar(), WorkingHoursOnly: true}
	got, ok := cfg.Diff(at("2024-01-08T05:00:00Z"), at("2024-01-05T18:00:00Z"))
	require.True(t, ok)
	assert.InDelta(t, 120.0, got, 1e-9)

	cfg.WorkingHoursOnly = false
	got, ok = cfg.Diff(at("2024-01-08T05:00:00Z"), at("2024-01-05T18:00:00Z"))
	require.True(t, ok)
	assert.InDelta(t, 3540.0, got, 1e-9)
}
