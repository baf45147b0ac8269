package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/prcycle/internal/config"
	"github.com/codeGROOVE-dev/prcycle/pkg/cohort"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
	"github.com/codeGROOVE-dev/prcycle/pkg/report"
)

// jsonReport is the -format json rendering of a cycle-time run.
//
//nolint:govet // fieldalignment: JSON field order optimized for readability
type jsonReport struct {
	Summary      cohort.Summary      `json:"summary"`
	Grades       cohort.Grades       `json:"grades"`
	PullRequests []cycletime.Metrics `json:"pull_requests"`
}

// runCycleTime analyzes one pull request, an organization, or the merged pull
// requests of the configured repository, and writes the report.
func runCycleTime(ctx context.Context, opts *options, cfg *config.Config, loc *time.Location) error {
	prCache := openCache(ctx, cfg)
	calcCfg := cycletime.Config{
		Calendar:         cycletime.DefaultCalendar().In(loc),
		WorkingHoursOnly: opts.workingHours,
	}
	since := time.Now().AddDate(0, 0, -7*opts.weeks)

	var prs []cycletime.PullRequest
	var err error
	switch {
	case opts.prURL != "":
		prs, err = fetchSingle(ctx, opts, cfg, prCache)
	case opts.org != "":
		prs, err = fetchOrganization(ctx, opts, cfg, prCache, since)
	default:
		var source cycletime.Source
		if source, err = newSource(ctx, opts, cfg, prCache); err != nil {
			return err
		}
		prs, err = source.MergedPullRequests(ctx, since)
	}
	if err != nil {
		return err
	}

	var metrics []cycletime.Metrics
	if len(prs) == 0 {
		fmt.Printf("\nNo PRs merged in the last %d weeks\n", opts.weeks)
	} else {
		result, err := cycletime.ComputeAll(&cycletime.BatchRequest{
			PullRequests: prs,
			Config:       calcCfg,
			Concurrency:  github.DefaultConcurrency,
		})
		if err != nil {
			return err
		}
		for _, f := range result.Failures {
			slog.Warn("Skipped malformed pull request", "number", f.Number, "error", f.Err)
		}
		metrics = result.Metrics
	}

	summary := cohort.Aggregate(metrics, opts.policy)
	ropts := report.Options{Team: opts.team, WorkingHoursOnly: opts.workingHours, Prefix: opts.prefix, Location: loc, Policy: opts.policy}
	return emit(opts, report.KindCycleTime, extension(opts.format), ropts, func(w io.Writer) error {
		return writeCycleTime(w, opts.format, metrics, &summary, ropts)
	})
}

// writeCycleTime renders a cycle-time report in format.
func writeCycleTime(w io.Writer, format string, metrics []cycletime.Metrics, summary *cohort.Summary, ropts report.Options) error {
	switch format {
	case "csv":
		return report.WritePullRequestCSV(w, metrics, ropts)
	case "json":
		if metrics == nil {
			metrics = []cycletime.Metrics{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonReport{
			Summary:      *summary,
			Grades:       cohort.GradeSummary(summary),
			PullRequests: report.ByCycleTime(metrics),
		})
	default:
		return report.WriteText(w, metrics, summary, ropts)
	}
}

func extension(format string) string {
	if format == "text" {
		return "txt"
	}
	return format
}

// fetchSingle fetches the pull request given on the command line.
func fetchSingle(ctx context.Context, opts *options, cfg *config.Config, prCache cycletime.Cache) ([]cycletime.PullRequest, error) {
	token, err := githubToken(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fetcher := &github.CachingFetcher{
		Fetcher: &github.SimpleFetcher{Token: token, DataSource: opts.dataSource},
		Cache:   prCache,
	}
	pr, err := fetcher.FetchPullRequest(ctx, opts.prURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR data: %w", err)
	}
	return []cycletime.PullRequest{pr}, nil
}

// fetchOrganization searches an organization for merged pull requests,
// optionally samples them, and fetches each one.
func fetchOrganization(
	ctx context.Context, opts *options, cfg *config.Config, prCache cycletime.Cache, since time.Time,
) ([]cycletime.PullRequest, error) {
	token, err := githubToken(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("Fetching PR list from organization", "org", opts.org)
	summaries, err := github.FetchMergedPRsFromOrg(ctx, opts.org, since, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PRs: %w", err)
	}
	slog.Info("Fetched PRs from organization",
		"total_prs", len(summaries),
		"since", since.Format(cohort.DateLayout))
	if len(summaries) == 0 {
		return nil, nil
	}

	botPRCount := countBotPRs(summaries)
	humanPRCount := len(summaries) - botPRCount

	samples := summaries
	if opts.sample > 0 {
		samples = github.SamplePRs(summaries, opts.sample)
	}
	slog.Info("Sampled PRs for analysis",
		"total_prs", len(summaries),
		"human_prs", humanPRCount,
		"bot_prs", botPRCount,
		"sample_size", len(samples),
		"requested_samples", opts.sample,
		"authors", github.CountUniqueAuthors(summaries))

	if botPRCount > 0 {
		fmt.Printf("\nAnalyzing %d PRs from %d merged PRs (%d human, %d bot) across %s (last %d weeks)...\n\n",
			len(samples), len(summaries), humanPRCount, botPRCount, opts.org, opts.weeks)
	} else {
		fmt.Printf("\nAnalyzing %d PRs from %d merged PRs across %s (last %d weeks)...\n\n",
			len(samples), len(summaries), opts.org, opts.weeks)
	}

	fetcher := &github.CachingFetcher{
		Fetcher: &github.SimpleFetcher{Token: token, DataSource: opts.dataSource},
		Cache:   prCache,
	}
	prs, skipped := github.FetchSummaries(ctx, fetcher, samples, github.DefaultConcurrency, slog.Default())
	if len(prs) == 0 {
		return nil, errors.New("no samples could be processed successfully")
	}
	if skipped > 0 {
		slog.Warn("Some pull requests could not be fetched", "skipped", skipped)
	}
	return prs, nil
}
