package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cohort"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
)

const (
	// maxURLLength is the maximum allowed URL length.
	maxURLLength = 200
	// maxWeeks bounds the repository listing window.
	maxWeeks = 52
	// maxOrgDays bounds the organization search window.
	maxOrgDays = 365
	// defaultOrgDays is the organization window when none is given.
	defaultOrgDays = 30
	// maxSample bounds the number of organization pull requests fetched.
	maxSample = 100
	// defaultBranch is the mainline when none is given.
	defaultBranch = "main"
)

// GitHub limits: owner ≤ 39 chars, repo ≤ 100 chars, PR number ≤ 10 digits.
var (
	prURLPattern = regexp.MustCompile(`^/([a-zA-Z0-9][-a-zA-Z0-9]{0,38})/([a-zA-Z0-9_.-]{1,100})/pull/(\d{1,10})/?$`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9][-a-zA-Z0-9_.]{0,99}$`)
)

// CycleTimeRequest asks for the metrics of one pull request.
type CycleTimeRequest struct {
	URL          string `json:"url"`
	WorkingHours bool   `json:"working_hours,omitempty"`
}

// CycleTimeResponse carries the metrics of one pull request.
type CycleTimeResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Commit    string            `json:"commit"`
	Metrics   cycletime.Metrics `json:"metrics"`
}

// RepoRequest asks for the cohort report of one repository.
//
//nolint:govet // fieldalignment: JSON field order mirrors the query parameters
type RepoRequest struct {
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Team         string `json:"team,omitempty"`
	Weeks        int    `json:"weeks,omitempty"`
	WorkingHours bool   `json:"working_hours,omitempty"`
	Policy       string `json:"policy,omitempty"`
	Branch       string `json:"branch,omitempty"`
}

// OrgRequest asks for the cohort report of an organization.
//
//nolint:govet // fieldalignment: JSON field order mirrors the query parameters
type OrgRequest struct {
	Org          string `json:"org"`
	Days         int    `json:"days,omitempty"`
	Sample       int    `json:"sample,omitempty"`
	WorkingHours bool   `json:"working_hours,omitempty"`
	Policy       string `json:"policy,omitempty"`
}

// FailureInfo names a pull request left out of a cohort.
type FailureInfo struct {
	Error  string `json:"error"`
	Number int    `json:"number"`
}

// CohortResponse carries a cohort summary with its per pull request metrics.
//
//nolint:govet // fieldalignment: JSON field order optimized for readability
type CohortResponse struct {
	Summary      cohort.Summary      `json:"summary"`
	Grades       cohort.Grades       `json:"grades"`
	PullRequests []cycletime.Metrics `json:"pull_requests"`
	Failures     []FailureInfo       `json:"failures,omitempty"`
	// TotalPullRequests counts every merged pull request found before sampling.
	TotalPullRequests int       `json:"total_pull_requests"`
	TotalAuthors      int       `json:"total_authors,omitempty"`
	Skipped           int       `json:"skipped,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Commit            string    `json:"commit"`
}

// MergeFrequencyResponse lists merges into a branch per day.
type MergeFrequencyResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Branch    string            `json:"branch"`
	Commit    string            `json:"commit"`
	Days      []cohort.DayCount `json:"days"`
}

func (s *Server) defaultFetcher(token string) cycletime.PRFetcher {
	return &github.CachingFetcher{
		Fetcher: &github.SimpleFetcher{Token: token, DataSource: s.dataSource},
		Cache:   s.cache,
	}
}

func (s *Server) defaultRepoSource(owner, repo, team, token string) (cycletime.Source, error) {
	return github.NewClient(github.Config{
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		Team:       team,
		BaseURL:    s.githubAPI,
		Cache:      s.cache,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	})
}

// config returns the computation config for a request.
//
//nolint:revive // flag-parameter: mirrors the working_hours request field
func (s *Server) config(workingHours bool) cycletime.Config {
	return cycletime.Config{Calendar: s.calendar, WorkingHoursOnly: workingHours}
}

// fail logs err and writes the matching status. Access errors keep their
// message; anything else is reported generically.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	s.log(ctx).ErrorContext(ctx, "Error processing request", "op", op, "status", status, errorKey, sanitizeError(err))
	switch status {
	case http.StatusInternalServerError:
		http.Error(w, "Internal server error", status)
	case http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized:
		http.Error(w, "Access denied: the token cannot read this repository", status)
	default:
		http.Error(w, sanitizeError(err), status)
	}
}

// handleCycleTime computes the metrics of one pull request.
func (s *Server) handleCycleTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := s.parseCycleTimeRequest(ctx, r)
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "Failed to parse request", "remote_addr", r.RemoteAddr, errorKey, sanitizeError(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token := s.requestToken(w, r)
	if token == "" {
		return
	}

	pr, err := s.fetcher(token).FetchPullRequest(ctx, req.URL)
	if err != nil {
		s.fail(ctx, w, "fetch", fmt.Errorf("fetch %s: %w", req.URL, err))
		return
	}
	metrics, err := cycletime.Compute(pr, s.config(req.WorkingHours))
	if err != nil {
		s.fail(ctx, w, "compute", err)
		return
	}

	s.writeJSON(ctx, w, &CycleTimeResponse{
		Metrics:   metrics,
		Timestamp: s.now(),
		Commit:    s.serverCommit,
	})
	s.log(ctx).InfoContext(ctx, "Request completed", "url", req.URL, "events", len(metrics.Events))
}

// handleRepoReport computes the cohort report of a repository.
func (s *Server) handleRepoReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, policy, err := s.parseRepoRequest(ctx, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token := s.requestToken(w, r)
	if token == "" {
		return
	}

	prs, err := s.mergedPullRequests(ctx, req, token)
	if err != nil {
		s.fail(ctx, w, "list", err)
		return
	}

	resp, err := s.cohortResponse(ctx, prs, s.config(req.WorkingHours), policy)
	if err != nil {
		s.fail(ctx, w, "compute", err)
		return
	}
	resp.TotalPullRequests = len(prs)
	s.writeJSON(ctx, w, resp)
	s.log(ctx).InfoContext(ctx, "Request completed", "repo", req.Owner+"/"+req.Repo, "pull_requests", len(prs))
}

// handleOrgReport computes the cohort report of an organization, optionally
// over a time-bucketed sample.
func (s *Server) handleOrgReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, policy, err := s.parseOrgRequest(ctx, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token := s.requestToken(w, r)
	if token == "" {
		return
	}

	since := s.now().AddDate(0, 0, -req.Days)
	summaries, err := s.orgSearch(ctx, req.Org, since, token)
	if err != nil {
		s.fail(ctx, w, "search", fmt.Errorf("search %s: %w", req.Org, err))
		return
	}
	s.log(ctx).InfoContext(ctx, "Fetched PRs from organization", "org", req.Org, "total_prs", len(summaries))
	if len(summaries) == 0 {
		resp, err := s.cohortResponse(ctx, nil, s.config(req.WorkingHours), policy)
		if err != nil {
			s.fail(ctx, w, "compute", err)
			return
		}
		s.writeJSON(ctx, w, resp)
		return
	}

	samples := summaries
	if req.Sample > 0 {
		samples = github.SamplePRs(summaries, req.Sample)
		s.log(ctx).InfoContext(ctx, "Sampled PRs", "sample_size", len(samples))
	}

	prs, skipped := github.FetchSummaries(ctx, s.fetcher(token), samples, github.DefaultConcurrency, s.log(ctx))
	if len(prs) == 0 {
		s.fail(ctx, w, "fetch", errors.New("no samples could be processed successfully"))
		return
	}

	resp, err := s.cohortResponse(ctx, prs, s.config(req.WorkingHours), policy)
	if err != nil {
		s.fail(ctx, w, "compute", err)
		return
	}
	resp.TotalPullRequests = len(summaries)
	resp.TotalAuthors = github.CountUniqueAuthors(summaries)
	resp.Skipped = skipped
	s.writeJSON(ctx, w, resp)
	s.log(ctx).InfoContext(ctx, "Request completed", "org", req.Org, "analyzed", len(prs), "skipped", skipped)
}

// handleMergeFrequency counts merges into a branch per day over the
// repository window.
func (s *Server) handleMergeFrequency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, _, err := s.parseRepoRequest(ctx, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token := s.requestToken(w, r)
	if token == "" {
		return
	}

	prs, err := s.mergedPullRequests(ctx, req, token)
	if err != nil {
		s.fail(ctx, w, "list", err)
		return
	}

	counts := cohort.CountByDay(cohort.MergedInto(prs, req.Branch), s.calendar.Location)
	days := counts.FullRange()
	if days == nil {
		days = []cohort.DayCount{}
	}
	s.writeJSON(ctx, w, &MergeFrequencyResponse{
		Branch:    req.Branch,
		Days:      days,
		Timestamp: s.now(),
		Commit:    s.serverCommit,
	})
}

func (s *Server) mergedPullRequests(ctx context.Context, req *RepoRequest, token string) ([]cycletime.PullRequest, error) {
	source, err := s.repoSource(req.Owner, req.Repo, req.Team, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	since := s.now().AddDate(0, 0, -7*req.Weeks)
	prs, err := source.MergedPullRequests(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list merged pull requests of %s/%s: %w", req.Owner, req.Repo, err)
	}
	return prs, nil
}

// cohortResponse computes and aggregates the metrics of prs. Malformed pull
// requests are reported as failures rather than failing the request.
func (s *Server) cohortResponse(
	ctx context.Context, prs []cycletime.PullRequest, cfg cycletime.Config, policy cohort.Policy,
) (*CohortResponse, error) {
	resp := &CohortResponse{
		PullRequests: []cycletime.Metrics{},
		Timestamp:    s.now(),
		Commit:       s.serverCommit,
	}
	if len(prs) == 0 {
		resp.Summary = cohort.Aggregate(nil, policy)
		return resp, nil
	}

	result, err := cycletime.ComputeAll(&cycletime.BatchRequest{
		PullRequests: prs,
		Config:       cfg,
		Logger:       s.log(ctx),
		Concurrency:  github.DefaultConcurrency,
	})
	if err != nil {
		return nil, err
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, FailureInfo{Number: f.Number, Error: f.Err.Error()})
	}

	resp.PullRequests = result.Metrics
	resp.Summary = cohort.Aggregate(result.Metrics, policy)
	resp.Grades = cohort.GradeSummary(&resp.Summary)
	return resp, nil
}

// decode reads a JSON body of at most maxRequestSize bytes into v.
func (s *Server) decode(ctx context.Context, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.log(ctx).ErrorContext(ctx, "Failed to decode JSON", errorKey, sanitizeError(err))
		return fmt.Errorf("%w: invalid JSON: %w", ErrInvalidRequest, err)
	}
	return nil
}

// parseCycleTimeRequest parses and validates a single pull request request.
func (s *Server) parseCycleTimeRequest(ctx context.Context, r *http.Request) (*CycleTimeRequest, error) {
	var req CycleTimeRequest
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		req.URL = query.Get("url")
		req.WorkingHours = queryBool(query, "working_hours")
	} else if err := s.decode(ctx, r, &req); err != nil {
		return nil, err
	}

	if req.URL == "" {
		return nil, fmt.Errorf("%w: missing required field: url", ErrInvalidRequest)
	}
	if err := s.validateGitHubPRURL(req.URL); err != nil {
		s.log(ctx).ErrorContext(ctx, "Invalid URL", "url", req.URL, errorKey, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return &req, nil
}

// parseRepoRequest parses and validates a repository request.
func (s *Server) parseRepoRequest(ctx context.Context, r *http.Request) (*RepoRequest, cohort.Policy, error) {
	var req RepoRequest
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		req.Owner = query.Get("owner")
		req.Repo = query.Get("repo")
		req.Team = query.Get("team")
		req.Policy = query.Get("policy")
		req.Branch = query.Get("branch")
		req.WorkingHours = queryBool(query, "working_hours")
		if weeks := query.Get("weeks"); weeks != "" {
			n, err := strconv.Atoi(weeks)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: weeks must be a number", ErrInvalidRequest)
			}
			req.Weeks = n
		}
	} else if err := s.decode(ctx, r, &req); err != nil {
		return nil, 0, err
	}

	if req.Owner == "" {
		return nil, 0, fmt.Errorf("%w: missing required field: owner", ErrInvalidRequest)
	}
	if req.Repo == "" {
		return nil, 0, fmt.Errorf("%w: missing required field: repo", ErrInvalidRequest)
	}
	if !namePattern.MatchString(req.Owner) || !namePattern.MatchString(req.Repo) {
		return nil, 0, fmt.Errorf("%w: invalid owner or repo name", ErrInvalidRequest)
	}
	if req.Team != "" && !namePattern.MatchString(req.Team) {
		return nil, 0, fmt.Errorf("%w: invalid team slug", ErrInvalidRequest)
	}

	if req.Weeks == 0 {
		req.Weeks = 1
	}
	if req.Weeks < 1 || req.Weeks > maxWeeks {
		return nil, 0, fmt.Errorf("%w: weeks must be between 1 and %d", ErrInvalidRequest, maxWeeks)
	}
	if req.Branch == "" {
		req.Branch = defaultBranch
	}

	policy, ok := cohort.ParsePolicy(req.Policy)
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidRequest, req.Policy)
	}
	return &req, policy, nil
}

// parseOrgRequest parses and validates an organization request.
func (s *Server) parseOrgRequest(ctx context.Context, r *http.Request) (*OrgRequest, cohort.Policy, error) {
	var req OrgRequest
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		req.Org = query.Get("org")
		req.Policy = query.Get("policy")
		req.WorkingHours = queryBool(query, "working_hours")
		for name, dst := range map[string]*int{"days": &req.Days, "sample": &req.Sample} {
			if v := query.Get(name); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, name)
				}
				*dst = n
			}
		}
	} else if err := s.decode(ctx, r, &req); err != nil {
		return nil, 0, err
	}

	if req.Org == "" {
		return nil, 0, fmt.Errorf("%w: missing required field: org", ErrInvalidRequest)
	}
	if !namePattern.MatchString(req.Org) {
		return nil, 0, fmt.Errorf("%w: invalid organization name", ErrInvalidRequest)
	}
	if req.Days == 0 {
		req.Days = defaultOrgDays
	}
	if req.Days < 1 || req.Days > maxOrgDays {
		return nil, 0, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, maxOrgDays)
	}
	if req.Sample < 0 {
		return nil, 0, fmt.Errorf("%w: sample must not be negative", ErrInvalidRequest)
	}
	// Silently cap the sample.
	if req.Sample > maxSample {
		req.Sample = maxSample
	}

	policy, ok := cohort.ParsePolicy(req.Policy)
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidRequest, req.Policy)
	}
	return &req, policy, nil
}

func queryBool(query url.Values, name string) bool {
	v, err := strconv.ParseBool(query.Get(name))
	return err == nil && v
}

// validateGitHubPRURL performs strict validation of GitHub PR URLs.
func (*Server) validateGitHubPRURL(prURL string) error {
	// Length check prevents DoS attacks with extremely long URLs.
	if len(prURL) > maxURLLength {
		return errors.New("URL too long")
	}

	u, err := url.Parse(prURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Only accept https://github.com URLs (prevents SSRF).
	if u.Scheme != "https" || u.Host != "github.com" {
		return errors.New("only https://github.com URLs allowed")
	}

	// Reject URLs with credentials, query params, or fragments.
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return errors.New("URL must be a plain GitHub PR URL")
	}

	if !prURLPattern.MatchString(u.Path) {
		return errors.New("invalid GitHub PR URL format")
	}
	return nil
}
