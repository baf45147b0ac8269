package cohort

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 12, 0, 0, 0, time.UTC)
}

func metric(number int, created, merged time.Time, cycle *float64, breaks ...float64) cycletime.Metrics {
	return cycletime.Metrics{
		PullRequest: cycletime.PullRequest{
			Number:       number,
			CreatedAt:    created,
			MergedAt:     merged,
			Additions:    number,
			Deletions:    1,
			ChangedFiles: 2,
		},
		CycleTime:                  cycle,
		TimeToMerge:                cycle,
		ConversationBreakDurations: breaks,
		ConversationBreaks:         len(breaks),
		NumberOfCommits:            number,
	}
}

func TestAggregate(t *testing.T) {
	metrics := []cycletime.Metrics{
		metric(1, day(1), day(2), f(10), 5, 15),
		metric(2, day(3), day(5), f(20)),
		metric(3, day(2), day(9), f(30), 25),
		metric(4, day(4), time.Time{}, nil),
	}

	s := Aggregate(metrics, ExcludeMissing)

	assert.Equal(t, 4, s.PullRequests)
	assert.Equal(t, "exclude-missing", s.Policy)
	require.True(t, s.CycleTime.HasData())
	assert.InDelta(t, 20, *s.CycleTime.Median, 1e-9)
	assert.InDelta(t, 20, *s.CycleTime.Average, 1e-9)
	assert.Equal(t, 3, s.CycleTime.Samples)
	assert.False(t, s.TimeToOpen.HasData())

	// Breaks are pooled across pull requests: 5, 15, 25.
	assert.Equal(t, 3, s.ConversationBreakDuration.Samples)
	assert.InDelta(t, 15, *s.ConversationBreakDuration.Median, 1e-9)
	assert.Equal(t, 2, s.Unreviewed)

	assert.InDelta(t, 2.5, *s.Commits.Median, 1e-9)
	assert.InDelta(t, 3.5, *s.LinesChanged.Average, 1e-9)

	assert.Equal(t, day(1), s.FirstCreated)
	assert.Equal(t, day(4), s.LastCreated)
	assert.Equal(t, day(2), s.FirstMerged)
	assert.Equal(t, day(9), s.LastMerged)
}

func TestAggregateLegacyPolicyDropsZeros(t *testing.T) {
	metrics := []cycletime.Metrics{
		metric(1, day(1), day(1), f(0)),
		metric(2, day(1), day(2), f(10)),
		metric(3, day(1), day(3), f(20)),
		metric(4, day(1), day(4), f(30)),
	}

	s := Aggregate(metrics, ExcludeMissingAndZero)
	assert.Equal(t, 3, s.CycleTime.Samples)
	assert.InDelta(t, 20, *s.CycleTime.Median, 1e-9)
	assert.InDelta(t, 20, *s.CycleTime.Average, 1e-9)

	s = Aggregate(metrics, ExcludeMissing)
	assert.Equal(t, 4, s.CycleTime.Samples)
	assert.InDelta(t, 15, *s.CycleTime.Average, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil, ExcludeMissing)
	assert.Equal(t, 0, s.PullRequests)
	assert.False(t, s.CycleTime.HasData())
	assert.True(t, s.FirstMerged.IsZero())
}

func TestSpan(t *testing.T) {
	metrics := []cycletime.Metrics{
		metric(1, day(5), time.Time{}, nil),
		metric(2, day(3), day(7), nil),
	}
	first, last, ok := Span(metrics, MergedAt)
	require.True(t, ok)
	assert.Equal(t, day(7), first)
	assert.Equal(t, day(7), last)

	_, _, ok = Span(metrics[:1], MergedAt)
	assert.False(t, ok)
}

func TestGradeSummary(t *testing.T) {
	metrics := []cycletime.Metrics{
		metric(1, day(1), day(2), f(120), 30),
		metric(2, day(1), day(2), f(180), 30),
	}
	metrics[0].TimeToFirstInteraction = f(30)

	s := Aggregate(metrics, ExcludeMissing)
	g := GradeSummary(&s)
	require.NotNil(t, g.CycleTime)
	assert.Equal(t, "A+", g.CycleTime.Letter)
	require.NotNil(t, g.FirstInteraction)
	assert.Equal(t, "A+", g.FirstInteraction.Letter)
	require.NotNil(t, g.ReviewCoverage)
	assert.Equal(t, "A", g.ReviewCoverage.Letter)

	empty := GradeSummary(&Summary{})
	assert.Nil(t, empty.CycleTime)
	assert.Nil(t, empty.ReviewCoverage)
}

func TestGrades(t *testing.T) {
	tests := []struct {
		hours float64
		want  string
	}{
		{hours: 2, want: "A+"},
		{hours: 20, want: "A"},
		{hours: 80, want: "B"},
		{hours: 100, want: "C"},
		{hours: 150, want: "D"},
		{hours: 500, want: "F"},
	}
	for _, tt := range tests {
		got, _ := CycleTimeGrade(tt.hours)
		assert.Equal(t, tt.want, got, "cycle time %.0fh", tt.hours)
	}

	got, _ := ReviewCoverageGrade(50)
	assert.Equal(t, "F", got)
	got, _ = FirstInteractionGrade(200)
	assert.Equal(t, "F", got)
}
