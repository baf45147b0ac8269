package cohort

import (
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// Summary holds cohort statistics over a set of analyzed pull requests.
//
//nolint:govet // fieldalignment: JSON field order optimized for readability
type Summary struct {
	PullRequests int    `json:"pull_requests"`
	Policy       string `json:"policy"`

	TimeToOpen             Statistic `json:"time_to_open"`
	TimeToFirstInteraction Statistic `json:"time_to_first_interaction"`
	TimeToMerge            Statistic `json:"time_to_merge"`
	CycleTime              Statistic `json:"cycle_time"`

	Commits      Statistic `json:"commits"`
	Files        Statistic `json:"files"`
	LinesChanged Statistic `json:"lines_changed"`
	Reviews      Statistic `json:"reviews"`

	// ConversationBreakDuration is computed over every break of every pull request.
	ConversationBreakDuration Statistic `json:"conversation_break_duration"`
	ConversationBreaks        Statistic `json:"conversation_breaks"`

	// Unreviewed counts pull requests without a single conversation break.
	Unreviewed int `json:"unreviewed"`

	FirstCreated time.Time `json:"first_created,omitzero"`
	LastCreated  time.Time `json:"last_created,omitzero"`
	FirstMerged  time.Time `json:"first_merged,omitzero"`
	LastMerged   time.Time `json:"last_merged,omitzero"`
}

// Aggregate reduces metrics into a Summary. It only reads its input.
func Aggregate(metrics []cycletime.Metrics, policy Policy) Summary {
	n := len(metrics)
	var (
		timeToOpen             = make([]*float64, 0, n)
		timeToFirstInteraction = make([]*float64, 0, n)
		timeToMerge            = make([]*float64, 0, n)
		cycleTime              = make([]*float64, 0, n)
		commits                = make([]int, 0, n)
		files                  = make([]int, 0, n)
		linesChanged           = make([]int, 0, n)
		reviews                = make([]int, 0, n)
		breakCounts            = make([]int, 0, n)
		breakDurations         []float64
		unreviewed             int
	)

	for i := range metrics {
		m := &metrics[i]
		timeToOpen = append(timeToOpen, m.TimeToOpen)
		timeToFirstInteraction = append(timeToFirstInteraction, m.TimeToFirstInteraction)
		timeToMerge = append(timeToMerge, m.TimeToMerge)
		cycleTime = append(cycleTime, m.CycleTime)
		commits = append(commits, m.NumberOfCommits)
		files = append(files, m.NumberOfFiles)
		linesChanged = append(linesChanged, m.LinesChanged())
		reviews = append(reviews, m.NumberOfReviews)
		breakCounts = append(breakCounts, m.ConversationBreaks)
		breakDurations = append(breakDurations, m.ConversationBreakDurations...)
		if len(m.ConversationBreakDurations) == 0 {
			unreviewed++
		}
	}

	summary := Summary{
		PullRequests:              n,
		Policy:                    policy.String(),
		TimeToOpen:                Summarize(timeToOpen, policy),
		TimeToFirstInteraction:    Summarize(timeToFirstInteraction, policy),
		TimeToMerge:               Summarize(timeToMerge, policy),
		CycleTime:                 Summarize(cycleTime, policy),
		Commits:                   Summarize(Values(commits), policy),
		Files:                     Summarize(Values(files), policy),
		LinesChanged:              Summarize(Values(linesChanged), policy),
		Reviews:                   Summarize(Values(reviews), policy),
		ConversationBreakDuration: Summarize(Values(breakDurations), policy),
		ConversationBreaks:        Summarize(Values(breakCounts), policy),
		Unreviewed:                unreviewed,
	}
	summary.FirstCreated, summary.LastCreated, _ = Span(metrics, CreatedAt)
	summary.FirstMerged, summary.LastMerged, _ = Span(metrics, MergedAt)
	return summary
}

// CreatedAt selects the creation instant for Span.
func CreatedAt(m *cycletime.Metrics) time.Time { return m.CreatedAt }

// MergedAt selects the merge instant for Span.
func MergedAt(m *cycletime.Metrics) time.Time { return m.MergedAt }

// Span returns the earliest and latest instant picked by instant across
// metrics. Zero instants are ignored; ok is false when none remain.
func Span(metrics []cycletime.Metrics, instant func(*cycletime.Metrics) time.Time) (earliest, latest time.Time, ok bool) {
	for i := range metrics {
		t := instant(&metrics[i])
		if t.IsZero() {
			continue
		}
		if !ok || t.Before(earliest) {
			earliest = t
		}
		if !ok || t.After(latest) {
			latest = t
		}
		ok = true
	}
	return earliest, latest, ok
}
