package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	gh "github.com/google/go-github/v62/github"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

const (
	// CacheTTL is how long an enriched pull request stays cached.
	CacheTTL = 7 * 24 * time.Hour

	perPage           = 100
	maxAttempts       = 4
	retryDelay        = 500 * time.Millisecond
	defaultRate       = 10 // requests per second
	mergeCommitMarker = "Merge pull request"
)

// Config configures a REST Client for one repository.
//
//nolint:govet // fieldalignment: struct field order optimized for API clarity
type Config struct {
	Token string
	Owner string
	Repo  string
	// Team restricts results to pull requests authored by members of this
	// team slug in Owner. Empty means no restriction.
	Team string
	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string
	// Cache stores enriched pull requests. Nil disables caching.
	Cache cycletime.Cache
	// RequestsPerSecond paces API calls. Zero uses a default of 10.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client lists and enriches pull requests of a single repository through the
// GitHub REST API.
type Client struct {
	api     *gh.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	cfg     Config

	teamMu  sync.Mutex
	members map[string]bool
}

// NewClient creates a REST client for cfg.Owner/cfg.Repo.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("owner and repo are required")
	}

	api := gh.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		api = api.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		api.BaseURL = u
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// MergedPullRequests returns the enriched pull requests merged at or after
// since, newest update first. Pull requests without commits are dropped.
func (c *Client) MergedPullRequests(ctx context.Context, since time.Time) ([]cycletime.PullRequest, error) {
	listed, err := c.listMerged(ctx, since)
	if err != nil {
		return nil, err
	}

	if c.cfg.Team != "" {
		members, err := c.teamMembers(ctx)
		if err != nil {
			return nil, err
		}
		kept := listed[:0]
		for _, pr := range listed {
			if members[strings.ToLower(pr.GetUser().GetLogin())] {
				kept = append(kept, pr)
			}
		}
		c.logger.InfoContext(ctx, "Applied team filter", "team", c.cfg.Team, "before", len(listed), "after", len(kept))
		listed = kept
	}

	out := make([]cycletime.PullRequest, 0, len(listed))
	for _, pr := range listed {
		enriched, err := c.enrich(ctx, pr)
		if err != nil {
			return nil, err
		}
		if len(enriched.Commits) == 0 {
			c.logger.WarnContext(ctx, "Dropping pull request without commits", "number", enriched.Number)
			continue
		}
		out = append(out, enriched)
	}
	return out, nil
}

// FetchPullRequest fetches and enriches one pull request by its web URL.
func (c *Client) FetchPullRequest(ctx context.Context, prURL string) (cycletime.PullRequest, error) {
	owner, repo, number, err := parsePRURL(prURL)
	if err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("invalid PR URL: %w", err)
	}
	if !strings.EqualFold(owner, c.cfg.Owner) || !strings.EqualFold(repo, c.cfg.Repo) {
		return cycletime.PullRequest{}, fmt.Errorf("%s is not in %s/%s", prURL, c.cfg.Owner, c.cfg.Repo)
	}

	var pr *gh.PullRequest
	err = c.call(ctx, "get pull request", func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		pr, resp, err = c.api.PullRequests.Get(ctx, owner, repo, number)
		return resp, err
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}
	enriched, err := c.enrich(ctx, pr)
	if err != nil {
		return cycletime.PullRequest{}, err
	}
	if len(enriched.Commits) == 0 {
		return cycletime.PullRequest{}, fmt.Errorf("PR-%d: %w", number, cycletime.ErrMalformedInput)
	}
	return enriched, nil
}

// MainlineMerges returns the commit instants of pull request merge commits on
// branch since the given instant.
func (c *Client) MainlineMerges(ctx context.Context, branch string, since time.Time) ([]time.Time, error) {
	commits, err := collect(ctx, c, "list commits", func(opts gh.ListOptions) ([]*gh.RepositoryCommit, *gh.Response, error) {
		return c.api.Repositories.ListCommits(ctx, c.cfg.Owner, c.cfg.Repo, &gh.CommitsListOptions{
			SHA:         branch,
			Since:       since,
			ListOptions: opts,
		})
	})
	if err != nil {
		return nil, err
	}

	var members map[string]bool
	if c.cfg.Team != "" {
		if members, err = c.teamMembers(ctx); err != nil {
			return nil, err
		}
	}

	var instants []time.Time
	for _, rc := range commits {
		commit := rc.GetCommit()
		if !strings.Contains(commit.GetMessage(), mergeCommitMarker) {
			continue
		}
		committed := commit.GetCommitter().GetDate().Time
		if committed.Before(since) {
			continue
		}
		if members != nil && !members[strings.ToLower(rc.GetAuthor().GetLogin())] {
			continue
		}
		instants = append(instants, committed)
	}
	c.logger.InfoContext(ctx, "Listed mainline merge commits", "branch", branch, "commits", len(commits), "merges", len(instants))
	return instants, nil
}

// listMerged pages through closed pull requests, most recently updated first,
// and stops at the first page holding a pull request merged before since.
func (c *Client) listMerged(ctx context.Context, since time.Time) ([]*gh.PullRequest, error) {
	var merged []*gh.PullRequest
	opts := &gh.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	for page := 1; ; page++ {
		var prs []*gh.PullRequest
		var resp *gh.Response
		err := c.call(ctx, "list pull requests", func() (*gh.Response, error) {
			var err error
			prs, resp, err = c.api.PullRequests.List(ctx, c.cfg.Owner, c.cfg.Repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		tooOld := false
		for _, pr := range prs {
			at := pr.GetMergedAt().Time
			if at.IsZero() {
				continue
			}
			if at.Before(since) {
				tooOld = true
				continue
			}
			merged = append(merged, pr)
		}

		c.logger.InfoContext(ctx, "Pull request page fetched",
			"page", page,
			"page_size", len(prs),
			"merged_in_window", len(merged))

		if tooOld || resp == nil || resp.NextPage == 0 {
			return merged, nil
		}
		opts.Page = resp.NextPage
	}
}

// enrich loads commits, files, comments, reviews and timeline of a listed
// pull request, consulting the cache first.
func (c *Client) enrich(ctx context.Context, pr *gh.PullRequest) (cycletime.PullRequest, error) {
	number := pr.GetNumber()
	key := fmt.Sprintf("github:%s/%s#%d", c.cfg.Owner, c.cfg.Repo, number)
	if c.cfg.Cache != nil {
		if cached, ok := c.cfg.Cache.Get(ctx, key); ok {
			c.logger.DebugContext(ctx, "Using cached pull request", "number", number)
			return cached, nil
		}
	}

	owner, repo := c.cfg.Owner, c.cfg.Repo
	var parts enrichment
	var err error

	parts.commits, err = collect(ctx, c, "list commits", func(opts gh.ListOptions) ([]*gh.RepositoryCommit, *gh.Response, error) {
		return c.api.PullRequests.ListCommits(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}

	parts.files, err = collect(ctx, c, "list files", func(opts gh.ListOptions) ([]*gh.CommitFile, *gh.Response, error) {
		return c.api.PullRequests.ListFiles(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}

	parts.reviewComments, err = collect(ctx, c, "list review comments", func(opts gh.ListOptions) ([]*gh.PullRequestComment, *gh.Response, error) {
		return c.api.PullRequests.ListComments(ctx, owner, repo, number, &gh.PullRequestListCommentsOptions{ListOptions: opts})
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}

	parts.issueComments, err = collect(ctx, c, "list issue comments", func(opts gh.ListOptions) ([]*gh.IssueComment, *gh.Response, error) {
		return c.api.Issues.ListComments(ctx, owner, repo, number, &gh.IssueListCommentsOptions{ListOptions: opts})
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}

	parts.reviews, err = collect(ctx, c, "list reviews", func(opts gh.ListOptions) ([]*gh.PullRequestReview, *gh.Response, error) {
		return c.api.PullRequests.ListReviews(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}

	for _, review := range parts.reviews {
		comments, err := collect(ctx, c, "list comments for review", func(opts gh.ListOptions) ([]*gh.PullRequestComment, *gh.Response, error) {
			return c.api.PullRequests.ListReviewComments(ctx, owner, repo, number, review.GetID(), &opts)
		})
		if err != nil {
			return cycletime.PullRequest{}, err
		}
		parts.reviewComments = append(parts.reviewComments, comments...)
	}

	parts.timeline, err = collect(ctx, c, "list timeline", func(opts gh.ListOptions) ([]*gh.Timeline, *gh.Response, error) {
		return c.api.Issues.ListIssueTimeline(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return cycletime.PullRequest{}, err
	}

	out := assemble(pr, owner+"/"+repo, &parts)
	if c.cfg.Cache != nil {
		c.cfg.Cache.Set(ctx, key, out, CacheTTL)
	}
	c.logger.DebugContext(ctx, "Retrieved pull request from API", "number", number,
		"commits", len(out.Commits), "comments", len(out.Comments), "reviews", len(out.Reviews))
	return out, nil
}

// teamMembers returns the lower-cased logins of the configured team.
func (c *Client) teamMembers(ctx context.Context) (map[string]bool, error) {
	c.teamMu.Lock()
	defer c.teamMu.Unlock()
	if c.members != nil {
		return c.members, nil
	}

	users, err := collect(ctx, c, "list team members", func(opts gh.ListOptions) ([]*gh.User, *gh.Response, error) {
		return c.api.Teams.ListTeamMembersBySlug(ctx, c.cfg.Owner, c.cfg.Team, &gh.TeamListTeamMembersOptions{ListOptions: opts})
	})
	if err != nil {
		return nil, fmt.Errorf("team %q: %w", c.cfg.Team, err)
	}

	members := make(map[string]bool, len(users))
	for _, u := range users {
		members[strings.ToLower(u.GetLogin())] = true
	}
	c.members = members
	return members, nil
}

// call runs one API request with pacing and retries. Server errors, rate
// limits and transport failures are retried; anything else fails at once.
func (c *Client) call(ctx context.Context, op string, fn func() (*gh.Response, error)) error {
	return retry.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := fn()
		if err == nil {
			return nil
		}
		err = classify(op, resp, err)
		if errors.Is(err, cycletime.ErrAccessDenied) || ctx.Err() != nil {
			return retry.Unrecoverable(err)
		}
		if resp != nil && resp.Response != nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && !isRateLimit(err) {
			return retry.Unrecoverable(err)
		}
		c.logger.WarnContext(ctx, "GitHub request failed, retrying", "op", op, "error", err)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func classify(op string, resp *gh.Response, err error) error {
	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, cycletime.ErrAccessDenied, err)
		case http.StatusForbidden:
			if !isRateLimit(err) {
				return fmt.Errorf("%s: %w: %w", op, cycletime.ErrAccessDenied, err)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isRateLimit(err error) bool {
	var rle *gh.RateLimitError
	var abuse *gh.AbuseRateLimitError
	return errors.As(err, &rle) || errors.As(err, &abuse)
}

// collect walks every page of a list endpoint.
func collect[T any](ctx context.Context, c *Client, op string, list func(opts gh.ListOptions) ([]T, *gh.Response, error)) ([]T, error) {
	var all []T
	opts := gh.ListOptions{PerPage: perPage}
	for {
		var page []T
		var resp *gh.Response
		err := c.call(ctx, op, func() (*gh.Response, error) {
			var err error
			page, resp, err = list(opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}
