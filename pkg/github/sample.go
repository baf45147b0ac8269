package github

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// DefaultConcurrency is the number of pull requests fetched in parallel.
const DefaultConcurrency = 8

// CachingFetcher consults Cache before delegating to Fetcher. The key is the
// same one the REST client uses, so both paths share entries.
type CachingFetcher struct {
	Fetcher cycletime.PRFetcher
	Cache   cycletime.Cache
}

// FetchPullRequest implements cycletime.PRFetcher.
func (f *CachingFetcher) FetchPullRequest(ctx context.Context, prURL string) (cycletime.PullRequest, error) {
	owner, repo, number, err := parsePRURL(prURL)
	if err != nil {
		return cycletime.PullRequest{}, err
	}
	key := fmt.Sprintf("github:%s/%s#%d", owner, repo, number)
	if f.Cache != nil {
		if pr, ok := f.Cache.Get(ctx, key); ok {
			return pr, nil
		}
	}
	pr, err := f.Fetcher.FetchPullRequest(ctx, prURL)
	if err != nil {
		return cycletime.PullRequest{}, err
	}
	if f.Cache != nil && pr.Merged() {
		f.Cache.Set(ctx, key, pr, CacheTTL)
	}
	return pr, nil
}

// FetchSummaries fetches every summarized pull request with at most
// concurrency requests in flight. Failures are logged and skipped; the
// result keeps the order of summaries and reports how many were skipped.
func FetchSummaries(
	ctx context.Context, fetcher cycletime.PRFetcher, summaries []PRSummary, concurrency int, logger *slog.Logger,
) (prs []cycletime.PullRequest, skipped int) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]*cycletime.PullRequest, len(summaries))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrency)

	for i, summary := range summaries {
		wg.Add(1)
		go func() {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			logger.InfoContext(ctx, "Processing sample PR",
				"repo", summary.Owner+"/"+summary.Repo,
				"number", summary.Number,
				"progress", fmt.Sprintf("%d/%d", i+1, len(summaries)))

			pr, err := fetcher.FetchPullRequest(ctx, summary.URL())
			if err != nil {
				logger.WarnContext(ctx, "Failed to fetch PR data, skipping", "pr_number", summary.Number, "error", err)
				return
			}
			results[i] = &pr
		}()
	}
	wg.Wait()

	for _, pr := range results {
		if pr == nil {
			skipped++
			continue
		}
		prs = append(prs, *pr)
	}
	return prs, skipped
}
