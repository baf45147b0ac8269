package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
)

// testNow anchors every request window in tests.
var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

// newMockPR builds a merged pull request: one commit a day before opening,
// a review an hour after opening, and a merge four hours after opening.
func newMockPR(number int, author string) cycletime.PullRequest {
	created := testNow.Add(-time.Duration(number) * 24 * time.Hour)
	return cycletime.PullRequest{
		Number:     number,
		URL:        fmt.Sprintf("https://github.com/test-owner/test-repo/pull/%d", number),
		Repository: "test-owner/test-repo",
		CreatedAt:  created,
		MergedAt:   created.Add(4 * time.Hour),
		Author:     cycletime.Identity{Login: author, ID: author + "-id"},
		BaseBranch: "main",
		Commits: []cycletime.Commit{{
			AuthoredAt: created.Add(-24 * time.Hour),
			Author:     &cycletime.Identity{Login: author, ID: author + "-id"},
		}},
		Reviews: []cycletime.Review{{
			SubmittedAt: created.Add(time.Hour),
			Author:      cycletime.Identity{Login: "reviewer", ID: "reviewer-id"},
			State:       "APPROVED",
		}},
		Additions:    10,
		Deletions:    2,
		ChangedFiles: 1,
	}
}

func newMockPRSummaries(count int) []github.PRSummary {
	summaries := make([]github.PRSummary, count)
	for i := range count {
		summaries[i] = github.PRSummary{
			Number:    i + 1,
			Owner:     "test-owner",
			Repo:      "test-repo",
			Author:    fmt.Sprintf("author%d", i%3),
			MergedAt:  testNow.Add(-time.Duration(i) * time.Hour),
			UpdatedAt: testNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return summaries
}

// mockFetcher serves pull requests by URL.
type mockFetcher struct {
	prs   map[string]cycletime.PullRequest
	err   error
	mu    sync.Mutex
	calls int
}

func (m *mockFetcher) FetchPullRequest(_ context.Context, prURL string) (cycletime.PullRequest, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return cycletime.PullRequest{}, m.err
	}
	pr, ok := m.prs[prURL]
	if !ok {
		return cycletime.PullRequest{}, fmt.Errorf("%w: %s", cycletime.ErrAccessDenied, prURL)
	}
	return pr, nil
}

// mockSource returns a fixed list of merged pull requests.
type mockSource struct {
	prs   []cycletime.PullRequest
	err   error
	since time.Time
}

func (m *mockSource) MergedPullRequests(_ context.Context, since time.Time) ([]cycletime.PullRequest, error) {
	m.since = since
	return m.prs, m.err
}

// newTestServer returns a server with a fallback token and no network access.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "ghp_fallback")
	s := New()
	s.now = func() time.Time { return testNow }
	s.SetCalendar(cycletime.DefaultCalendar().In(time.UTC))
	s.fetcher = func(string) cycletime.PRFetcher { return &mockFetcher{} }
	s.repoSource = func(_, _, _, _ string) (cycletime.Source, error) { return &mockSource{}, nil }
	s.orgSearch = func(context.Context, string, time.Time, string) ([]github.PRSummary, error) { return nil, nil }
	return s
}
