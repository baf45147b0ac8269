// Package sentry reads production deployment instants from Sentry releases.
package sentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// DefaultBaseURL is the Sentry API root.
const DefaultBaseURL = "https://sentry.io/api/0"

const (
	maxAttempts = 4
	retryDelay  = 500 * time.Millisecond
	defaultRate = 5 // requests per second
)

// ErrNotConfigured is returned when the organization, environment or token
// is missing.
var ErrNotConfigured = errors.New("sentry is not set up to pull releases")

// Config identifies the organization and its production environment.
//
//nolint:govet // fieldalignment: struct field order optimized for API clarity
type Config struct {
	Organization string
	Environment  string
	Token        string
	// BaseURL overrides DefaultBaseURL (tests).
	BaseURL           string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Deployment is the production rollout of one release.
type Deployment struct {
	DeployedAt time.Time `json:"deployed_at"`
	Version    string    `json:"version"`
	// Commit is the second dash-separated component of the version, when present.
	Commit string `json:"commit,omitempty"`
}

// Client lists production deployments of an organization.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	cfg     Config
}

// NewClient returns ErrNotConfigured unless every coordinate is set.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Organization == "" || cfg.Environment == "" || cfg.Token == "" {
		return nil, ErrNotConfigured
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

type release struct {
	Version     string    `json:"version"`
	DateCreated time.Time `json:"dateCreated"`
}

type deploy struct {
	Environment  string     `json:"environment"`
	DateFinished *time.Time `json:"dateFinished"`
}

// Deployments implements cycletime.DeploymentHistory: the finish instants of
// the production deployments of releases created at or after since.
func (c *Client) Deployments(ctx context.Context, since time.Time) ([]time.Time, error) {
	deployments, err := c.ProductionDeployments(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(deployments))
	for _, d := range deployments {
		if !d.DeployedAt.Before(since) {
			out = append(out, d.DeployedAt)
		}
	}
	return out, nil
}

// ProductionDeployments returns one Deployment per release that reached the
// production environment, dated by its latest finished production deploy.
// Releases are listed newest first; listing stops at the first release created
// before since.
func (c *Client) ProductionDeployments(ctx context.Context, since time.Time) ([]Deployment, error) {
	releases, err := c.listReleases(ctx, since)
	if err != nil {
		return nil, err
	}

	var out []Deployment
	for _, r := range releases {
		href := fmt.Sprintf("%s/organizations/%s/releases/%s/deploys/",
			c.cfg.BaseURL, url.PathEscape(c.cfg.Organization), url.PathEscape(r.Version))
		var deploys []deploy
		if _, err := c.get(ctx, href, &deploys); err != nil {
			return nil, fmt.Errorf("deploys of release %s: %w", r.Version, err)
		}

		var latest time.Time
		for _, d := range deploys {
			if d.Environment == c.cfg.Environment && d.DateFinished != nil && d.DateFinished.After(latest) {
				latest = *d.DateFinished
			}
		}
		if latest.IsZero() {
			continue
		}
		dep := Deployment{Version: r.Version, DeployedAt: latest}
		if parts := strings.Split(r.Version, "-"); len(parts) > 1 {
			dep.Commit = parts[1]
		}
		out = append(out, dep)
	}

	slices.SortFunc(out, func(a, b Deployment) int { return a.DeployedAt.Compare(b.DeployedAt) })
	c.logger.InfoContext(ctx, "Found production deployments",
		"organization", c.cfg.Organization,
		"environment", c.cfg.Environment,
		"releases", len(releases),
		"deployments", len(out))
	return out, nil
}

// listReleases returns unique releases, following the cursor links Sentry
// marks with results="true".
func (c *Client) listReleases(ctx context.Context, since time.Time) ([]release, error) {
	next := fmt.Sprintf("%s/organizations/%s/releases/", c.cfg.BaseURL, url.PathEscape(c.cfg.Organization))
	seen := map[string]bool{}
	var out []release
	for next != "" {
		var page []release
		header, err := c.get(ctx, next, &page)
		if err != nil {
			return nil, fmt.Errorf("list releases: %w", err)
		}
		for _, r := range page {
			if !r.DateCreated.IsZero() && r.DateCreated.Before(since) {
				return out, nil
			}
			if seen[r.Version] {
				continue
			}
			seen[r.Version] = true
			out = append(out, r)
		}
		next = nextLink(header.Get("Link"))
	}
	return out, nil
}

// nextLink extracts the next page URL from a Sentry Link header, or "" when
// the next page holds no results.
func nextLink(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		fields := strings.Split(part, ";")
		if len(fields) < 2 {
			continue
		}
		var isNext, hasResults bool
		for _, f := range fields[1:] {
			switch strings.TrimSpace(f) {
			case `rel="next"`:
				isNext = true
			case `results="true"`:
				hasResults = true
			}
		}
		if isNext && hasResults {
			return strings.Trim(strings.TrimSpace(fields[0]), "<>")
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, href string, out any) (http.Header, error) {
	var header http.Header
	err := retry.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Unrecoverable(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, http.NoBody)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
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
			return fmt.Errorf("sentry request failed with status %d", resp.StatusCode)
		default:
			return retry.Unrecoverable(fmt.Errorf("sentry request failed with status %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		header = resp.Header
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return header, err
}
