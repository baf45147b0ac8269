package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/prx/pkg/prx"
	"github.com/codeGROOVE-dev/turnclient/pkg/turn"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// FetchPullRequestViaTurnserver retrieves pull request information from the
// turnserver and converts it into a canonical pull request.
//
// The turnserver embeds prx data structures and caches on updatedAt. Pass the
// PR's updatedAt timestamp from a listing, or time.Now() for fresh data.
func FetchPullRequestViaTurnserver(ctx context.Context, prURL string, token string, updatedAt time.Time) (cycletime.PullRequest, error) {
	owner, repo, number, err := parsePRURL(prURL)
	if err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("invalid PR URL: %w", err)
	}

	slog.DebugContext(ctx, "Creating turnserver client", "url", prURL, "updated_at", updatedAt.Format(time.RFC3339))

	client, err := turn.NewDefaultClient()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create turnserver client", "error", err)
		return cycletime.PullRequest{}, fmt.Errorf("create turnserver client: %w", err)
	}
	client.SetAuthToken(token)

	// The event stream is what the timeline is built from.
	client.IncludeEvents()

	response, err := client.Check(ctx, prURL, "codeGROOVE-prcycle", updatedAt)
	if err != nil {
		slog.ErrorContext(ctx, "Turnserver API call failed", "url", prURL, "error", err)
		return cycletime.PullRequest{}, fmt.Errorf("turnserver API call failed: %w", err)
	}

	slog.DebugContext(ctx, "Turnserver API call successful",
		"additions", response.PullRequest.Additions,
		"deletions", response.PullRequest.Deletions,
		"author", response.PullRequest.Author,
		"total_events", len(response.Events))

	prData := &prx.PullRequestData{
		PullRequest: response.PullRequest,
		Events:      response.Events,
	}

	pr := PullRequestFromPRX(prData, canonicalURL(owner, repo, number))
	if len(pr.Commits) == 0 {
		return cycletime.PullRequest{}, fmt.Errorf("PR-%d: %w", number, cycletime.ErrMalformedInput)
	}
	slog.DebugContext(ctx, "Converted PR data", "commits", len(pr.Commits), "comments", len(pr.Comments), "reviews", len(pr.Reviews))
	return pr, nil
}
