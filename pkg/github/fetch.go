// Package github produces canonical pull request records from GitHub.
//
// Three data sources are supported: the REST API (Client), prx, and the
// turnserver. All of them normalize into cycletime.PullRequest.
package github

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/prx/pkg/prx"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// PullRequestFromPRX converts prx.PullRequestData to a canonical pull request.
// This allows computing cycle time from pre-fetched PR data.
//
// prx reports actors by login only, so roles are resolved by login. Bot
// activity is kept like any other collaborator's.
func PullRequestFromPRX(prData *prx.PullRequestData, prURL string) cycletime.PullRequest {
	pr := prData.PullRequest

	out := cycletime.PullRequest{
		Number:       pr.Number,
		Title:        pr.Title,
		URL:          prURL,
		CreatedAt:    pr.CreatedAt,
		Author:       cycletime.Identity{Login: pr.Author},
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		ChangedFiles: pr.ChangedFiles,
	}
	if pr.MergedAt != nil {
		out.MergedAt = *pr.MergedAt
	}
	if owner, repo, number, err := parsePRURL(prURL); err == nil {
		out.Repository = owner + "/" + repo
		if out.Number == 0 {
			out.Number = number
		}
	}

	for i := range prData.Events {
		event := &prData.Events[i]
		actor := cycletime.Identity{Login: event.Actor}

		if event.Kind == "commit" {
			c := cycletime.Commit{AuthoredAt: event.Timestamp, AuthorName: event.Actor}
			if event.Actor != "" {
				c.Author = &actor
			}
			out.Commits = append(out.Commits, c)
			continue
		}

		switch event.Kind {
		case "comment", "review_comment":
			out.Comments = append(out.Comments, cycletime.Comment{CreatedAt: event.Timestamp, Author: actor})
		case "review":
			out.Reviews = append(out.Reviews, cycletime.Review{SubmittedAt: event.Timestamp, Author: actor, State: "REVIEWED"})
		case "ready_for_review":
			out.ReadyForReview = append(out.ReadyForReview, cycletime.ReadyForReview{OccurredAt: event.Timestamp, Author: actor})
		default:
		}
	}

	return out
}

// FetchPullRequest retrieves pull request information via prx and converts
// it into a canonical pull request.
//
// Parameters:
//   - ctx: Context for the API call
//   - prURL: Full GitHub PR URL (e.g., "https://github.com/owner/repo/pull/123")
//   - token: GitHub authentication token
func FetchPullRequest(ctx context.Context, prURL string, token string) (cycletime.PullRequest, error) {
	owner, repo, prNumber, err := parsePRURL(prURL)
	if err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("invalid PR URL: %w", err)
	}

	client := prx.NewClient(token)

	prData, err := client.PullRequest(ctx, owner, repo, prNumber)
	if err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("failed to fetch PR data: %w", err)
	}

	pr := PullRequestFromPRX(prData, canonicalURL(owner, repo, prNumber))
	if len(pr.Commits) == 0 {
		return cycletime.PullRequest{}, fmt.Errorf("PR-%d: %w", prNumber, cycletime.ErrMalformedInput)
	}
	return pr, nil
}

// FetchPullRequestWithDefaults is a convenience function that uses the
// GITHUB_TOKEN environment variable for authentication.
func FetchPullRequestWithDefaults(ctx context.Context, prURL string) (cycletime.PullRequest, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return cycletime.PullRequest{}, errors.New("GITHUB_TOKEN environment variable not set")
	}
	return FetchPullRequest(ctx, prURL, token)
}

// ParsePRURL extracts owner, repo, and PR number from a GitHub PR URL.
func ParsePRURL(prURL string) (owner, repo string, prNumber int, err error) {
	return parsePRURL(prURL)
}

// parsePRURL extracts owner, repo, and PR number from a GitHub PR URL.
// Expected format: https://github.com/owner/repo/pull/123
func parsePRURL(prURL string) (owner, repo string, prNumber int, err error) {
	prURL = strings.TrimPrefix(prURL, "https://")
	prURL = strings.TrimPrefix(prURL, "http://")

	if !strings.HasPrefix(prURL, "github.com/") {
		return "", "", 0, errors.New("URL must be from github.com")
	}
	prURL = strings.TrimPrefix(prURL, "github.com/")

	parts := strings.Split(prURL, "/")
	if len(parts) < 4 || parts[2] != "pull" {
		return "", "", 0, errors.New("expected format: https://github.com/owner/repo/pull/123")
	}

	owner = parts[0]
	repo = parts[1]
	prNumber, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number: %w", err)
	}
	if prNumber <= 0 {
		return "", "", 0, fmt.Errorf("invalid PR number: %d", prNumber)
	}

	return owner, repo, prNumber, nil
}

func canonicalURL(owner, repo string, number int) string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number)
}
