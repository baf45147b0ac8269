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
	"github.com/codeGROOVE-dev/prcycle/pkg/report"
	"github.com/codeGROOVE-dev/prcycle/pkg/sentry"
)

// runMergeFrequency counts merged pull requests into the mainline per day.
func runMergeFrequency(ctx context.Context, opts *options, cfg *config.Config, loc *time.Location) error {
	source, err := newSource(ctx, opts, cfg, openCache(ctx, cfg))
	if err != nil {
		return err
	}
	prs, err := source.MergedPullRequests(ctx, time.Now().AddDate(0, 0, -7*opts.weeks))
	if err != nil {
		return err
	}

	counts := cohort.CountByDay(cohort.MergedInto(prs, opts.branch), loc)
	slog.Info("Counted merges", "branch", opts.branch, "pull_requests", len(prs), "days", len(counts))

	ropts := report.Options{Team: opts.team, Prefix: opts.prefix, Location: loc}
	return emit(opts, report.KindMergeFrequency, opts.format, ropts, func(w io.Writer) error {
		return writeMergeFrequency(w, opts.format, counts, opts.branch)
	})
}

func writeMergeFrequency(w io.Writer, format string, counts cohort.DayCounts, branch string) error {
	if format == "json" {
		days := counts.FullRange()
		if days == nil {
			days = []cohort.DayCount{}
		}
		return json.NewEncoder(w).Encode(struct {
			Branch string            `json:"branch"`
			Days   []cohort.DayCount `json:"days"`
		}{branch, days})
	}
	return report.WriteMergeFrequencyCSV(w, counts, branch)
}

// runDeploymentFrequency lists mainline merge commits per day next to
// production deployments per day.
func runDeploymentFrequency(ctx context.Context, opts *options, cfg *config.Config, loc *time.Location) error {
	client, err := newGitHubClient(ctx, opts, cfg, nil)
	if err != nil {
		return err
	}
	since := time.Now().AddDate(0, 0, -7*opts.weeks)

	merges, err := client.MainlineMerges(ctx, opts.branch, since)
	if err != nil {
		return err
	}
	history, err := deploymentHistory(cfg)
	if err != nil {
		return err
	}
	days, err := deploymentDays(ctx, merges, history, since, loc)
	if err != nil {
		return err
	}
	ropts := report.Options{Prefix: opts.prefix, Location: loc}
	return emit(opts, report.KindDeployment, opts.format, ropts, func(w io.Writer) error {
		return writeDeploymentFrequency(w, opts.format, days, opts.branch)
	})
}

// deploymentHistory returns the Sentry deployment source, or nil when Sentry
// is not configured and the report only carries merges.
func deploymentHistory(cfg *config.Config) (cycletime.DeploymentHistory, error) {
	client, err := sentry.NewClient(sentry.Config{
		Organization: cfg.Sentry.Organization,
		Environment:  cfg.Sentry.Environment,
		Token:        cfg.Sentry.Token,
	})
	if errors.Is(err, sentry.ErrNotConfigured) {
		slog.Warn("Sentry is not configured, reporting merges only",
			"required", "SENTRY_ORGANIZATION_SLUG, SENTRY_PRODUCTION_ENVIRONMENT_SLUG, SENTRY_AUTH_TOKEN")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// deploymentDays buckets merges and deployments per day.
func deploymentDays(
	ctx context.Context, merges []time.Time, history cycletime.DeploymentHistory, since time.Time, loc *time.Location,
) ([]cohort.DeploymentDay, error) {
	var deployments []time.Time
	if history != nil {
		var err error
		if deployments, err = history.Deployments(ctx, since); err != nil {
			return nil, fmt.Errorf("list production deployments: %w", err)
		}
	}
	return cohort.CompareStreams(cohort.CountByDay(merges, loc), cohort.CountByDay(deployments, loc)), nil
}

func writeDeploymentFrequency(w io.Writer, format string, days []cohort.DeploymentDay, branch string) error {
	if format == "json" {
		if days == nil {
			days = []cohort.DeploymentDay{}
		}
		return json.NewEncoder(w).Encode(struct {
			Branch string                 `json:"branch"`
			Days   []cohort.DeploymentDay `json:"days"`
		}{branch, days})
	}
	return report.WriteDeploymentFrequencyCSV(w, days, branch)
}
