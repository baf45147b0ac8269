package cycletime

import (
	"log/slog"
	"time"
)

// Metrics is the cycle-time analysis of one pull request.
// Durations are in minutes; a nil duration means it could not be measured.
//
//nolint:govet // fieldalignment: JSON field order optimized for readability
type Metrics struct {
	PullRequest

	TimeToOpen             *float64 `json:"time_to_open_minutes"`
	TimeToFirstInteraction *float64 `json:"time_to_first_interaction_minutes"`
	TimeToMerge            *float64 `json:"time_to_merge_minutes"`
	CycleTime              *float64 `json:"cycle_time_minutes"`

	ConversationBreakDurations []float64 `json:"conversation_break_durations"`
	ConversationBreaks         int       `json:"conversation_breaks"`

	NumberOfCommits int `json:"number_of_commits"`
	NumberOfFiles   int `json:"number_of_files"`
	NumberOfReviews int `json:"number_of_reviews"`

	// Events is the sorted timeline the metrics were derived from.
	Events []Event `json:"events"`
}

// LinesChanged returns additions plus deletions.
func (m *Metrics) LinesChanged() int {
	return m.Additions + m.Deletions
}

// Compute derives the metrics of a single pull request.
//
// It returns ErrMalformedInput when the pull request has no commits. Compute
// is a pure function of its inputs and never mutates pr.
func Compute(pr PullRequest, cfg Config) (Metrics, error) {
	events, err := ExtractEvents(&pr)
	if err != nil {
		return Metrics{}, err
	}

	var firstCommit, firstInteraction time.Time
	for _, e := range events {
		if e.Commit && firstCommit.IsZero() {
			firstCommit = e.At
		}
		// A pushed commit is not a conversational interaction.
		if e.Role == RoleCollaborator && !e.Commit && firstInteraction.IsZero() {
			firstInteraction = e.At
		}
	}

	timeToOpen := minutes(cfg.Diff(pr.CreatedAt, firstCommit))
	timeToFirstInteraction := minutes(cfg.Diff(firstInteraction, pr.CreatedAt))
	timeToMerge := minutes(cfg.Diff(pr.MergedAt, pr.CreatedAt))

	// Commits dated after creation (rebased or force pushed history) make time
	// to open unknown; cycle time then starts at creation instead.
	cycleTime := timeToMerge
	if timeToOpen != nil {
		cycleTime = minutes(cfg.Diff(pr.MergedAt, firstCommit))
	}

	breaks := DetectBreaks(events, cfg)

	slog.Debug("Computed pull request metrics",
		"number", pr.Number,
		"events", len(events),
		"conversation_breaks", len(breaks),
		"working_hours_only", cfg.WorkingHoursOnly)

	return Metrics{
		PullRequest:                pr,
		TimeToOpen:                 timeToOpen,
		TimeToFirstInteraction:     timeToFirstInteraction,
		TimeToMerge:                timeToMerge,
		CycleTime:                  cycleTime,
		ConversationBreakDurations: breaks,
		ConversationBreaks:         len(breaks),
		NumberOfCommits:            len(pr.Commits),
		NumberOfFiles:              pr.ChangedFiles,
		NumberOfReviews:            len(pr.Reviews),
		Events:                     events,
	}, nil
}

func minutes(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
