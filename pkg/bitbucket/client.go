// Package bitbucket produces canonical pull request records from Bitbucket
// Cloud so they can be measured exactly like GitHub pull requests.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

const (
	// DefaultBaseURL is the Bitbucket Cloud API root.
	DefaultBaseURL = "https://api.bitbucket.org/2.0"
	// CacheTTL is how long an enriched pull request stays cached.
	CacheTTL = 20 * 24 * time.Hour

	pageLen     = 50
	maxAttempts = 4
	retryDelay  = 500 * time.Millisecond
	defaultRate = 10 // requests per second
)

// Config configures a Client for one repository.
//
//nolint:govet // fieldalignment: struct field order optimized for API clarity
type Config struct {
	Workspace   string
	Repo        string
	Username    string
	AppPassword string
	// BaseURL overrides DefaultBaseURL (tests).
	BaseURL string
	// Cache stores enriched pull requests. Nil disables caching.
	Cache             cycletime.Cache
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client lists merged Bitbucket pull requests in canonical form.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	cfg     Config
}

// NewClient creates a client for cfg.Workspace/cfg.Repo.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Workspace == "" || cfg.Repo == "" {
		return nil, errors.New("workspace and repo are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
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
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// MergedPullRequests returns the enriched pull requests merged at or after
// since. Pull requests left without commits after merge commit removal are
// dropped.
func (c *Client) MergedPullRequests(ctx context.Context, since time.Time) ([]cycletime.PullRequest, error) {
	listed, err := c.listMerged(ctx, since)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "Found merged Bitbucket pull requests", "count", len(listed))

	out := make([]cycletime.PullRequest, 0, len(listed))
	for i := range listed {
		pr, err := c.enrich(ctx, &listed[i])
		if err != nil {
			return nil, err
		}
		if len(pr.Commits) == 0 {
			c.logger.WarnContext(ctx, "Dropping pull request without commits", "number", pr.Number)
			continue
		}
		if pr.MergedAt.Before(since) {
			continue
		}
		out = append(out, pr)
	}
	c.logger.InfoContext(ctx, "Transformed Bitbucket pull requests", "count", len(out))
	return out, nil
}

// listMerged pages through merged pull requests, most recently updated first.
// updated_on bounds the merge instant from above, so paging stops at the first
// page holding a pull request last updated before since.
func (c *Client) listMerged(ctx context.Context, since time.Time) ([]pullRequest, error) {
	q := url.Values{}
	q.Set("state", "MERGED")
	q.Set("sort", "-updated_on")
	q.Set("pagelen", fmt.Sprint(pageLen))
	next := fmt.Sprintf("%s/repositories/%s/%s/pullrequests?%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.Workspace), url.PathEscape(c.cfg.Repo), q.Encode())

	var merged []pullRequest
	for next != "" {
		var p page[pullRequest]
		if err := c.get(ctx, next, &p); err != nil {
			return nil, fmt.Errorf("list pull requests: %w", err)
		}
		if len(p.Values) == 0 {
			break
		}

		inWindow := 0
		for i := range p.Values {
			if !p.Values[i].UpdatedOn.Before(since) {
				merged = append(merged, p.Values[i])
				inWindow++
			}
		}
		if inWindow < len(p.Values) {
			break
		}
		next = p.Next
	}
	return merged, nil
}

func (c *Client) enrich(ctx context.Context, pr *pullRequest) (cycletime.PullRequest, error) {
	key := fmt.Sprintf("bitbucket:%s/%s#%d", c.cfg.Workspace, c.cfg.Repo, pr.ID)
	if c.cfg.Cache != nil {
		if cached, ok := c.cfg.Cache.Get(ctx, key); ok {
			c.logger.DebugContext(ctx, "Retrieved from cache", "number", pr.ID)
			return cached, nil
		}
	}

	var parts enrichment
	var err error

	if parts.comments, err = getAll[comment](ctx, c, pr.Links.Comments.Href); err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("comments of PR-%d: %w", pr.ID, err)
	}
	if parts.diffstat, err = getAll[diffstat](ctx, c, pr.Links.Diffstat.Href); err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("diffstat of PR-%d: %w", pr.ID, err)
	}
	if parts.activity, err = getAll[activity](ctx, c, pr.Links.Activity.Href); err != nil {
		return cycletime.PullRequest{}, fmt.Errorf("activity of PR-%d: %w", pr.ID, err)
	}
	parts.commits = c.listCommits(ctx, pr, parts.activity)

	out := assemble(pr, c.cfg.Workspace+"/"+c.cfg.Repo, &parts)
	if c.cfg.Cache != nil {
		c.cfg.Cache.Set(ctx, key, out, CacheTTL)
	}
	c.logger.DebugContext(ctx, "Retrieved from API", "number", pr.ID,
		"commits", len(out.Commits), "comments", len(out.Comments), "reviews", len(out.Reviews))
	return out, nil
}

// listCommits gathers the pull request commits. A squash merge leaves only the
// merge commit on the commits endpoint, so the source head and every pushed
// head recorded in the activity log are fetched too. Failures are logged and
// yield no commits, which drops the pull request.
func (c *Client) listCommits(ctx context.Context, pr *pullRequest, events []activity) []commit {
	commits, err := getAll[commit](ctx, c, pr.Links.Commits.Href)
	if err != nil {
		c.logger.WarnContext(ctx, "Error fetching commits", "number", pr.ID, "error", err)
		return nil
	}

	heads := []string{pr.Source.Commit.Links.Self.Href}
	for i := range events {
		if u := events[i].Update; u != nil && u.State == "OPEN" && len(u.Changes) == 0 {
			heads = append(heads, u.Source.Commit.Links.Self.Href)
		}
	}
	for _, href := range heads {
		if href == "" {
			continue
		}
		var head commit
		if err := c.get(ctx, href, &head); err != nil {
			c.logger.WarnContext(ctx, "Error fetching commit", "number", pr.ID, "url", href, "error", err)
			return nil
		}
		commits = append(commits, head)
	}

	seen := make(map[string]bool, len(commits))
	unique := commits[:0]
	for _, cm := range commits {
		if seen[cm.Hash] {
			continue
		}
		seen[cm.Hash] = true
		unique = append(unique, cm)
	}
	return unique
}

// getAll follows the "next" links of a paginated collection.
func getAll[T any](ctx context.Context, c *Client, href string) ([]T, error) {
	var all []T
	for next := href; next != ""; {
		var p page[T]
		if err := c.get(ctx, next, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Values...)
		next = p.Next
	}
	return all, nil
}

// get fetches one JSON document with pacing and retries.
func (c *Client) get(ctx context.Context, href string, out any) error {
	return retry.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Unrecoverable(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, http.NoBody)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.AppPassword)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // best effort close

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
			return retry.Unrecoverable(fmt.Errorf("%w: status %d", cycletime.ErrAccessDenied, resp.StatusCode))
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse
			return fmt.Errorf("bitbucket request failed with status %d", resp.StatusCode)
		default:
			return retry.Unrecoverable(fmt.Errorf("bitbucket request failed with status %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
