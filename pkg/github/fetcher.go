package github

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// Data sources understood by SimpleFetcher.
const (
	SourcePRX        = "prx"
	SourceTurnserver = "turnserver"
)

// SimpleFetcher is a cycletime.PRFetcher without caching.
// It uses either prx or turnserver based on DataSource.
type SimpleFetcher struct {
	Token      string
	DataSource string // "prx" or "turnserver"
}

// FetchPullRequest implements cycletime.PRFetcher.
func (f *SimpleFetcher) FetchPullRequest(ctx context.Context, prURL string) (cycletime.PullRequest, error) {
	if f.DataSource == SourceTurnserver {
		return FetchPullRequestViaTurnserver(ctx, prURL, f.Token, time.Now())
	}
	return FetchPullRequest(ctx, prURL, f.Token)
}
