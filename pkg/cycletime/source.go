package cycletime

import (
	"context"
	"time"
)

// Source lists merged pull requests from a hosting platform in canonical form.
// Implementations drop pull requests that have no commits.
type Source interface {
	MergedPullRequests(ctx context.Context, since time.Time) ([]PullRequest, error)
}

// PRFetcher fetches a single pull request by its web URL.
type PRFetcher interface {
	FetchPullRequest(ctx context.Context, prURL string) (PullRequest, error)
}

// MainlineHistory lists the instants at which pull requests were merged into
// a branch, for merge and deployment frequency reports.
type MainlineHistory interface {
	MainlineMerges(ctx context.Context, branch string, since time.Time) ([]time.Time, error)
}

// Cache keeps enriched pull requests between runs so that unchanged history
// is not fetched again.
type Cache interface {
	Get(ctx context.Context, key string) (PullRequest, bool)
	Set(ctx context.Context, key string, pr PullRequest, ttl time.Duration)
}

// DeploymentHistory lists the instants at which production deployments
// finished.
type DeploymentHistory interface {
	Deployments(ctx context.Context, since time.Time) ([]time.Time, error)
}
