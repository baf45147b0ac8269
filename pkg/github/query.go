package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const graphQLEndpoint = "https://api.github.com/graphql"

// PRSummary holds minimal information about a merged PR for sampling and fetching.
type PRSummary struct {
	MergedAt  time.Time // Merge time
	UpdatedAt time.Time // Last update time, used for turnserver caching
	Owner     string    // Repository owner
	Repo      string    // Repository name
	Author    string    // PR author login
	Number    int       // PR number
}

type prKey struct {
	owner, repo string
	number      int
}

// URL returns the web URL of the summarized pull request.
func (s PRSummary) URL() string {
	return canonicalURL(s.Owner, s.Repo, s.Number)
}

// FetchMergedPRsFromOrg queries the GitHub GraphQL Search API for all PRs
// across an organization merged on or after since.
//
// Parameters:
//   - ctx: Context for the API call
//   - org: GitHub organization name
//   - since: Only include PRs merged after this time
//   - token: GitHub authentication token
func FetchMergedPRsFromOrg(ctx context.Context, org string, since time.Time, token string) ([]PRSummary, error) {
	return searchMerged(ctx, http.DefaultClient, graphQLEndpoint, org, since, token)
}

type searchResponse struct {
	Data struct {
		Search struct {
			IssueCount int
			PageInfo   struct {
				HasNextPage bool
				EndCursor   string
			}
			Nodes []struct {
				Number     int
				UpdatedAt  time.Time
				MergedAt   *time.Time
				Author     struct{ Login string }
				Repository struct {
					Owner struct{ Login string }
					Name  string
				}
			}
		}
	}
	Errors []struct {
		Message string
	}
}

func searchMerged(ctx context.Context, client *http.Client, endpoint, org string, since time.Time, token string) ([]PRSummary, error) {
	// Query: org:myorg is:pr is:merged merged:>=2025-07-25
	searchQuery := fmt.Sprintf("org:%s is:pr is:merged merged:>=%s", org, since.UTC().Format("2006-01-02"))

	const query = `
	query($searchQuery: String!, $cursor: String) {
		search(query: $searchQuery, type: ISSUE, first: 100, after: $cursor) {
			issueCount
			pageInfo {
				hasNextPage
				endCursor
			}
			nodes {
				... on PullRequest {
					number
					updatedAt
					mergedAt
					author {
						login
					}
					repository {
						owner {
							login
						}
						name
					}
				}
			}
		}
	}`

	var all []PRSummary
	var cursor *string
	for pageNum := 1; ; pageNum++ {
		variables := map[string]any{"searchQuery": searchQuery}
		if cursor != nil {
			variables["cursor"] = *cursor
		}
		body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		var result searchResponse
		err = retry.Do(func() error {
			return postGraphQL(ctx, client, endpoint, token, body, &result)
		},
			retry.Context(ctx),
			retry.Attempts(maxAttempts),
			retry.Delay(retryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return nil, err
		}
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("GraphQL error: %s", result.Errors[0].Message)
		}

		search := result.Data.Search
		slog.InfoContext(ctx, "GraphQL search page fetched",
			"page", pageNum,
			"page_size", len(search.Nodes),
			"total_count", search.IssueCount,
			"has_next_page", search.PageInfo.HasNextPage)

		for _, node := range search.Nodes {
			if node.MergedAt == nil || node.MergedAt.Before(since) {
				continue
			}
			all = append(all, PRSummary{
				Owner:     node.Repository.Owner.Login,
				Repo:      node.Repository.Name,
				Number:    node.Number,
				Author:    node.Author.Login,
				UpdatedAt: node.UpdatedAt,
				MergedAt:  *node.MergedAt,
			})
		}

		if !search.PageInfo.HasNextPage {
			return deduplicatePRs(all), nil
		}
		cursor = &search.PageInfo.EndCursor
	}
}

func postGraphQL(ctx context.Context, client *http.Client, endpoint, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best effort close

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("GraphQL request failed with status %d", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Unrecoverable(err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// deduplicatePRs drops repeated owner/repo/number entries; search results can
// shift between pages. The first occurrence is kept.
func deduplicatePRs(prs []PRSummary) []PRSummary {
	seen := make(map[prKey]bool, len(prs))
	out := make([]PRSummary, 0, len(prs))
	for _, pr := range prs {
		k := prKey{pr.Owner, pr.Repo, pr.Number}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, pr)
	}
	return out
}

// CountUniqueAuthors returns the number of distinct human authors.
func CountUniqueAuthors(prs []PRSummary) int {
	authors := make(map[string]bool)
	for _, pr := range prs {
		if pr.Author != "" && !IsBot(pr.Author) {
			authors[pr.Author] = true
		}
	}
	return len(authors)
}

// SamplePRs uses a time-bucket strategy to evenly sample PRs across the time
// range of their merge instants, so samples are spread over the period
// instead of clustered.
//
// The range is divided into sampleSize buckets and the most recent PR of each
// bucket is picked. Empty buckets are filled with the newest unused PRs.
func SamplePRs(prs []PRSummary, sampleSize int) []PRSummary {
	if len(prs) == 0 || sampleSize <= 0 {
		return nil
	}
	if len(prs) <= sampleSize {
		return prs
	}

	sorted := slices.Clone(prs)
	slices.SortStableFunc(sorted, func(a, b PRSummary) int {
		return b.MergedAt.Compare(a.MergedAt)
	})

	newest := sorted[0].MergedAt
	oldest := sorted[len(sorted)-1].MergedAt
	bucketDuration := newest.Sub(oldest) / time.Duration(sampleSize)

	slog.Info("Time bucket sampling",
		"newest", newest.Format(time.RFC3339),
		"oldest", oldest.Format(time.RFC3339),
		"bucket_duration", bucketDuration,
		"num_buckets", sampleSize)

	used := make(map[prKey]bool, sampleSize)
	var samples []PRSummary

	if bucketDuration > 0 {
		taken := make([]bool, sampleSize)
		for _, pr := range sorted {
			bucket := int(newest.Sub(pr.MergedAt) / bucketDuration)
			if bucket >= sampleSize {
				bucket = sampleSize - 1
			}
			if taken[bucket] {
				continue
			}
			taken[bucket] = true
			samples = append(samples, pr)
			used[prKey{pr.Owner, pr.Repo, pr.Number}] = true
		}
	}

	for _, pr := range sorted {
		if len(samples) >= sampleSize {
			break
		}
		k := prKey{pr.Owner, pr.Repo, pr.Number}
		if !used[k] {
			samples = append(samples, pr)
			used[k] = true
		}
	}

	return samples
}
