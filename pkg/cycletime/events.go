package cycletime

import (
	"fmt"
	"slices"
	"time"
)

// EventKind identifies where a timeline event came from.
type EventKind string

// Event kinds.
const (
	KindCreated        EventKind = "created"
	KindMerged         EventKind = "merged"
	KindClosed         EventKind = "closed"
	KindReadyForReview EventKind = "ready_for_review"
	KindComment        EventKind = "comment"
	KindReview         EventKind = "review"
	KindCommit         EventKind = "commit"
)

// Event is a single entry of a pull request timeline.
type Event struct {
	// At is zero only for the close event of a pull request that was not merged.
	At     time.Time `json:"at,omitzero"`
	Kind   EventKind `json:"kind"`
	Label  string    `json:"label"`
	Actor  string    `json:"actor,omitempty"`
	Role   Role      `json:"role"`
	Commit bool      `json:"commit"`
}

// ExtractEvents builds the timeline of pr, sorted by instant.
//
// Events are appended creation, close, ready-for-review transitions, comments,
// reviews, commits; the sort is stable so that order breaks ties. An event
// without an instant sorts after every timestamped event.
func ExtractEvents(pr *PullRequest) ([]Event, error) {
	if len(pr.Commits) == 0 {
		return nil, fmt.Errorf("%w: PR-%d has no commits", ErrMalformedInput, pr.Number)
	}

	info := fmt.Sprintf("PR-%d (%s)", pr.Number, pr.URL)
	events := make([]Event, 0, 2+len(pr.ReadyForReview)+len(pr.Comments)+len(pr.Reviews)+len(pr.Commits))

	events = append(events, Event{
		At:    pr.CreatedAt,
		Kind:  KindCreated,
		Label: fmt.Sprintf("%s: created by %s. %d additions, %d deletions", info, pr.Author.Login, pr.Additions, pr.Deletions),
		Actor: pr.Author.Login,
		Role:  RoleAuthor,
	})

	if pr.Merged() {
		events = append(events, Event{At: pr.MergedAt, Kind: KindMerged, Label: info + ": merged", Role: RoleNone})
	} else {
		events = append(events, Event{Kind: KindClosed, Label: info + ": closed - not merged", Role: RoleNone})
	}

	for _, r := range pr.ReadyForReview {
		events = append(events, Event{
			At:    r.OccurredAt,
			Kind:  KindReadyForReview,
			Label: fmt.Sprintf("%s: %s marked PR ready for review", info, r.Author.Login),
			Actor: r.Author.Login,
			Role:  Classify(pr.Author, r.Author),
		})
	}

	for _, c := range pr.Comments {
		events = append(events, Event{
			At:    c.CreatedAt,
			Kind:  KindComment,
			Label: fmt.Sprintf("%s: %s commented (%s)", info, c.Author.Login, c.URL),
			Actor: c.Author.Login,
			Role:  Classify(pr.Author, c.Author),
		})
	}

	for _, r := range pr.Reviews {
		events = append(events, Event{
			At:    r.SubmittedAt,
			Kind:  KindReview,
			Label: fmt.Sprintf("%s: %s %s (%s)", info, r.Author.Login, r.State, r.URL),
			Actor: r.Author.Login,
			Role:  Classify(pr.Author, r.Author),
		})
	}

	for _, c := range pr.Commits {
		actor := c.AuthorName
		if c.Author != nil && c.Author.Login != "" {
			actor = c.Author.Login
		}
		events = append(events, Event{
			At:     c.AuthoredAt,
			Kind:   KindCommit,
			Label:  fmt.Sprintf("%s: %s committed (%s)", info, actor, c.URL),
			Actor:  actor,
			Role:   ClassifyCommit(pr.Author, c.Author),
			Commit: true,
		})
	}

	slices.SortStableFunc(events, compareInstants)
	return events, nil
}

func compareInstants(a, b Event) int {
	switch {
	case a.At.IsZero() && b.At.IsZero():
		return 0
	case a.At.IsZero():
		return 1
	case b.At.IsZero():
		return -1
	}
	return a.At.Compare(b.At)
}
