// Package cycletime reconstructs the timeline of a pull request and derives
// cycle-time metrics from it: time to open, time to first interaction, time to
// merge, cycle time and conversation breaks.
//
// The package is purely computational. Host adapters (GitHub, Bitbucket)
// normalize their API payloads into a PullRequest and hand it to Compute.
package cycletime

import (
	"errors"
	"time"
)

// ErrMalformedInput is returned when a pull request violates the input
// contract, e.g. it carries no commits so no first-commit instant exists.
var ErrMalformedInput = errors.New("malformed pull request")

// ErrAccessDenied is wrapped by adapters when the hosting platform refuses a
// request (bad credentials, missing permission, unknown repository).
var ErrAccessDenied = errors.New("access denied by hosting platform")

// Identity is a user on the hosting platform.
// ID is the stable account identifier; it may be empty when the host cannot
// resolve the account (e.g. a commit authored by an unlinked email).
type Identity struct {
	Login string `json:"login"`
	ID    string `json:"id,omitempty"`
}

// Comment is a conversation or review comment left on a pull request.
type Comment struct {
	CreatedAt time.Time `json:"created_at"`
	Author    Identity  `json:"author"`
	URL       string    `json:"url,omitempty"`
}

// Review is a submitted review (approval, change request, plain comment).
type Review struct {
	SubmittedAt time.Time `json:"submitted_at"`
	Author      Identity  `json:"author"`
	State       string    `json:"state"`
	URL         string    `json:"url,omitempty"`
}

// Commit is a commit that belongs to the pull request.
type Commit struct {
	AuthoredAt time.Time `json:"authored_at"`
	// Author is nil when the commit author has no platform account.
	Author *Identity `json:"author,omitempty"`
	// AuthorName is the git author name, used for labels when Author is nil.
	AuthorName string `json:"author_name,omitempty"`
	URL        string `json:"url,omitempty"`
}

// ReadyForReview records a draft pull request being marked ready for review.
type ReadyForReview struct {
	OccurredAt time.Time `json:"occurred_at"`
	Author     Identity  `json:"author"`
}

// PullRequest is the canonical, host independent pull request record.
// Adapters must only emit pull requests with at least one commit.
//
//nolint:govet // fieldalignment: field order mirrors the report columns
type PullRequest struct {
	Number     int       `json:"number"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url"`
	Repository string    `json:"repository,omitempty"` // "owner/repo"
	CreatedAt  time.Time `json:"created_at"`
	// MergedAt is zero when the pull request was closed without being merged.
	MergedAt   time.Time `json:"merged_at,omitzero"`
	Author     Identity  `json:"author"`
	BaseBranch string    `json:"base_branch"`

	Comments       []Comment        `json:"comments"`
	Reviews        []Review         `json:"reviews"`
	Commits        []Commit         `json:"commits"`
	ReadyForReview []ReadyForReview `json:"ready_for_review,omitempty"`

	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	ChangedFiles int `json:"changed_files"`
}

// Merged reports whether the pull request was merged.
func (pr *PullRequest) Merged() bool {
	return !pr.MergedAt.IsZero()
}

// Config holds the parameters applied to every duration of a run.
type Config struct {
	// Calendar is the weekly working-hours calendar.
	Calendar Calendar

	// WorkingHoursOnly restricts every duration to the calendar's working hours.
	WorkingHoursOnly bool
}

// DefaultConfig returns wall-clock durations over the default calendar.
func DefaultConfig() Config {
	return Config{
		Calendar: DefaultCalendar(),
	}
}

// Diff returns the minutes between earlier and later under this config.
// See Calendar.Diff for the semantics of the boolean result.
func (c Config) Diff(later, earlier time.Time) (float64, bool) {
	return c.Calendar.Diff(later, earlier, c.WorkingHoursOnly)
}
