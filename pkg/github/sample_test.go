package github

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

type stubFetcher struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *stubFetcher) FetchPullRequest(_ context.Context, prURL string) (cycletime.PullRequest, error) {
	f.calls.Add(1)
	if f.fail[prURL] {
		return cycletime.PullRequest{}, errors.New("boom")
	}
	_, _, number, err := ParsePRURL(prURL)
	if err != nil {
		return cycletime.PullRequest{}, err
	}
	return cycletime.PullRequest{
		Number:   number,
		URL:      prURL,
		MergedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}, nil
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]cycletime.PullRequest
}

func (c *mapCache) Get(_ context.Context, key string) (cycletime.PullRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.entries[key]
	return pr, ok
}

func (c *mapCache) Set(_ context.Context, key string, pr cycletime.PullRequest, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = pr
}

func TestFetchSummaries(t *testing.T) {
	summaries := make([]PRSummary, 12)
	for i := range summaries {
		summaries[i] = PRSummary{Owner: "acme", Repo: "widgets", Number: i + 1}
	}
	fetcher := &stubFetcher{fail: map[string]bool{
		"https://github.com/acme/widgets/pull/3": true,
		"https://github.com/acme/widgets/pull/9": true,
	}}

	prs, skipped := FetchSummaries(t.Context(), fetcher, summaries, 3, nil)

	assert.Equal(t, 2, skipped)
	require.Len(t, prs, 10)
	assert.Equal(t, 1, prs[0].Number)
	assert.Equal(t, 4, prs[2].Number, "results keep input order")
	assert.Equal(t, 12, prs[9].Number)
	assert.Equal(t, int32(12), fetcher.calls.Load())
}

func TestCachingFetcher(t *testing.T) {
	inner := &stubFetcher{}
	cache := &mapCache{entries: map[string]cycletime.PullRequest{}}
	f := &CachingFetcher{Fetcher: inner, Cache: cache}
	ctx := t.Context()

	pr, err := f.FetchPullRequest(ctx, "https://github.com/acme/widgets/pull/5")
	require.NoError(t, err)
	assert.Equal(t, 5, pr.Number)
	assert.Contains(t, cache.entries, "github:acme/widgets#5")

	_, err = f.FetchPullRequest(ctx, "https://github.com/acme/widgets/pull/5")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load(), "second fetch is served from the cache")

	_, err = f.FetchPullRequest(ctx, "https://example.com/acme/widgets/pull/5")
	require.Error(t, err)
}
