package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]cycletime.PullRequest
}

func (m *memoryCache) Get(_ context.Context, key string) (cycletime.PullRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.entries[key]
	return pr, ok
}

func (m *memoryCache) Set(_ context.Context, key string, pr cycletime.PullRequest, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]cycletime.PullRequest{}
	}
	m.entries[key] = pr
}

// fakeBitbucket serves acme/widgets: PR 7 (merged in window), PR 9 (in window,
// commits unavailable) and PR 8 (last updated before the window). A second
// listing page exists but must never be requested.
type fakeBitbucket struct {
	url           string
	secondPage    atomic.Int32
	commentCalls  atomic.Int32
	failListCalls atomic.Int32
}

func (f *fakeBitbucket) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	base := "/repositories/acme/widgets/pullrequests"

	pr := func(id int, updated string) string {
		self := fmt.Sprintf("%s%s/%d", f.url, base, id)
		return fmt.Sprintf(`{"id":%d,"title":"PR %d","created_on":"2024-03-04T10:00:00.000000+00:00",
			"updated_on":%q,
			"author":{"display_name":"Alice","uuid":"{alice}"},
			"destination":{"branch":{"name":"develop"}},
			"source":{"commit":{"hash":"3333","links":{"self":{"href":"%s/repositories/acme/widgets/commit/3333"}}}},
			"merge_commit":{"hash":"abc123def456"},
			"links":{"html":{"href":"https://bitbucket.org/acme/widgets/pull-requests/%d"},
				"comments":{"href":"%s/comments"},"diffstat":{"href":"%s/diffstat"},
				"activity":{"href":"%s/activity"},"commits":{"href":"%s/commits"}}}`,
			id, id, updated, f.url, id, self, self, self, self)
	}

	mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "secret", pass)
		if f.failListCalls.Load() > 0 {
			f.failListCalls.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			f.secondPage.Add(1)
			fmt.Fprint(w, `{"values":[]}`)
			return
		}
		assert.Equal(t, "MERGED", r.URL.Query().Get("state"))
		assert.Equal(t, "-updated_on", r.URL.Query().Get("sort"))
		fmt.Fprintf(w, `{"values":[%s,%s,%s],"next":"%s%s?page=2"}`,
			pr(7, "2024-03-05T12:00:00.000000+00:00"),
			pr(9, "2024-03-05T11:00:00.000000+00:00"),
			pr(8, "2024-02-01T10:00:00.000000+00:00"),
			f.url, base)
	})

	mux.HandleFunc("GET "+base+"/7/comments", func(w http.ResponseWriter, _ *http.Request) {
		f.commentCalls.Add(1)
		fmt.Fprint(w, `{"values":[
			{"created_on":"2024-03-04T12:00:00+00:00","user":{"display_name":"Bob","uuid":"{bob}"},
			 "links":{"html":{"href":"https://bitbucket.org/c/1"}}},
			{"created_on":"2024-03-04T12:30:00+00:00","user":{"display_name":"Bob","uuid":"{bob}"},"deleted":true}]}`)
	})
	mux.HandleFunc("GET "+base+"/7/diffstat", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"values":[{"lines_added":10,"lines_removed":2},{"lines_added":5,"lines_removed":1}]}`)
	})
	mux.HandleFunc("GET "+base+"/7/activity", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"values":[
			{"update":{"date":"2024-03-05T11:00:00+00:00","state":"MERGED","author":{"display_name":"Bob"},
			 "changes":{"status":{"old":"open","new":"fulfilled"}}}},
			{"approval":{"date":"2024-03-05T09:00:00+00:00","user":{"display_name":"Bob","uuid":"{bob}"},
			 "pullrequest":{"links":{"html":{"href":"https://bitbucket.org/acme/widgets/pull-requests/7"}}}}},
			{"update":{"date":"2024-03-04T13:00:00+00:00","state":"OPEN","author":{"display_name":"Alice"},
			 "changes":{},"source":{"commit":{"links":{"self":{"href":"%s/repositories/acme/widgets/commit/1111"}}}}}},
			{"update":{"date":"2024-03-04T11:00:00+00:00","state":"OPEN","author":{"display_name":"Alice","uuid":"{alice}"},
			 "changes":{"draft":{"old":true,"new":false}}}}]}`, f.url)
	})
	mux.HandleFunc("GET "+base+"/7/commits", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"values":[{"hash":"2222","date":"2024-03-04T09:30:00+00:00",
				"author":{"raw":"Carol Doe <carol@example.com>"}}]}`)
			return
		}
		fmt.Fprintf(w, `{"values":[
			{"hash":"1111","date":"2024-03-04T09:00:00+00:00","author":{"user":{"display_name":"Alice","uuid":"{alice}"}},
			 "links":{"html":{"href":"https://bitbucket.org/acme/widgets/commits/1111"}}},
			{"hash":"abc123def4567890","date":"2024-03-05T11:00:00+00:00","author":{"user":{"display_name":"Bob"}}}],
			"next":"%s%s/7/commits?page=2"}`, f.url, base)
	})
	mux.HandleFunc("GET /repositories/acme/widgets/commit/3333", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"hash":"3333","date":"2024-03-04T14:00:00+00:00","author":{"user":{"display_name":"Alice","uuid":"{alice}"}}}`)
	})
	mux.HandleFunc("GET /repositories/acme/widgets/commit/1111", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"hash":"1111","date":"2024-03-04T09:00:00+00:00","author":{"user":{"display_name":"Alice","uuid":"{alice}"}}}`)
	})

	for _, part := range []string{"comments", "diffstat", "activity"} {
		mux.HandleFunc("GET "+base+"/9/"+part, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"values":[]}`)
		})
	}
	mux.HandleFunc("GET "+base+"/9/commits", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	return mux
}

func newTestClient(t *testing.T, fake *fakeBitbucket, cache cycletime.Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	fake.url = srv.URL

	c, err := NewClient(Config{
		Workspace:         "acme",
		Repo:              "widgets",
		Username:          "bot",
		AppPassword:       "secret",
		BaseURL:           srv.URL + "/",
		Cache:             cache,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

var windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestMergedPullRequests(t *testing.T) {
	fake := &fakeBitbucket{}
	c := newTestClient(t, fake, nil)

	prs, err := c.MergedPullRequests(t.Context(), windowStart)
	require.NoError(t, err)
	require.Len(t, prs, 1, "PR 9 has no commits and PR 8 is outside the window")
	assert.Zero(t, fake.secondPage.Load(), "paging should stop at the first stale pull request")

	pr := prs[0]
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "acme/widgets", pr.Repository)
	assert.Equal(t, "develop", pr.BaseBranch)
	assert.Equal(t, cycletime.Identity{Login: "Alice", ID: "{alice}"}, pr.Author)
	assert.True(t, pr.MergedAt.Equal(time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, 15, pr.Additions)
	assert.Equal(t, 3, pr.Deletions)
	assert.Equal(t, 2, pr.ChangedFiles)

	require.Len(t, pr.Comments, 1, "deleted comments are skipped")
	assert.Equal(t, "Bob", pr.Comments[0].Author.Login)

	require.Len(t, pr.Reviews, 1)
	assert.Equal(t, "APPROVED", pr.Reviews[0].State)
	assert.Equal(t, "{bob}", pr.Reviews[0].Author.ID)

	require.Len(t, pr.ReadyForReview, 1)
	assert.True(t, pr.ReadyForReview[0].OccurredAt.Equal(time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)))

	// 1111 appears twice, the merge commit is dropped, 3333 is the source head.
	require.Len(t, pr.Commits, 3)
	assert.Equal(t, "https://bitbucket.org/acme/widgets/commits/1111", pr.Commits[0].URL)
	assert.Nil(t, pr.Commits[1].Author)
	assert.Equal(t, "Carol Doe", pr.Commits[1].AuthorName)
	assert.Equal(t, "https://bitbucket.org/acme/widgets/pull-requests/7/commits/2222", pr.Commits[1].URL)
	require.NotNil(t, pr.Commits[2].Author)
	assert.Equal(t, "{alice}", pr.Commits[2].Author.ID)
}

func TestMergedPullRequestsUsesCache(t *testing.T) {
	fake := &fakeBitbucket{}
	cache := &memoryCache{}
	c := newTestClient(t, fake, cache)

	first, err := c.MergedPullRequests(t.Context(), windowStart)
	require.NoError(t, err)
	second, err := c.MergedPullRequests(t.Context(), windowStart)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fake.commentCalls.Load())
	_, ok := cache.Get(t.Context(), "bitbucket:acme/widgets#7")
	assert.True(t, ok)
}

func TestMergedPullRequestsRetriesServerErrors(t *testing.T) {
	fake := &fakeBitbucket{}
	fake.failListCalls.Store(1)
	c := newTestClient(t, fake, nil)

	prs, err := c.MergedPullRequests(t.Context(), windowStart)
	require.NoError(t, err)
	assert.Len(t, prs, 1)
}

func TestMergedPullRequestsAccessDenied(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Workspace: "acme", Repo: "widgets", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.MergedPullRequests(t.Context(), windowStart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cycletime.ErrAccessDenied))
	assert.Equal(t, int32(1), calls.Load(), "authorization failures are not retried")
}

func TestAssembleDefaults(t *testing.T) {
	pr := &pullRequest{ID: 3, UpdatedOn: time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)}
	pr.Links.HTML.Href = "https://bitbucket.org/acme/widgets/pull-requests/3"

	got := assemble(pr, "acme/widgets", &enrichment{})
	assert.Equal(t, "main", got.BaseBranch)
	assert.True(t, got.MergedAt.Equal(pr.UpdatedOn), "merge instant falls back to the last update")
	assert.Empty(t, got.Commits)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Workspace: "acme"})
	require.Error(t, err)

	c, err := NewClient(Config{Workspace: "acme", Repo: "widgets"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.cfg.BaseURL)
}
