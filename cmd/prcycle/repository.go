package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/prcycle/internal/cache"
	"github.com/codeGROOVE-dev/prcycle/internal/config"
	"github.com/codeGROOVE-dev/prcycle/pkg/bitbucket"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
)

// countBotPRs counts how many PRs in the list are authored by bots.
func countBotPRs(prs []github.PRSummary) int {
	count := 0
	for _, pr := range prs {
		if isBotAuthor(pr.Author) {
			count++
		}
	}
	return count
}

// isBotAuthor returns true if the author name indicates a bot account.
// It is broader than github.IsBot: some bots authenticate as plain users.
func isBotAuthor(author string) bool {
	if github.IsBot(author) || strings.Contains(author, "-bot-") {
		return true
	}

	lowerAuthor := strings.ToLower(author)
	knownBots := []string{
		"renovate",
		"dependabot",
		"github-actions",
		"codecov",
		"snyk",
		"greenkeeper",
		"imgbot",
		"renovate-bot",
		"dependabot-preview",
	}
	for _, botName := range knownBots {
		if lowerAuthor == botName {
			return true
		}
	}
	return false
}

// openCache opens the configured pull request cache. Failures disable caching
// rather than the run.
func openCache(ctx context.Context, cfg *config.Config) cycletime.Cache {
	c, err := cache.Open(ctx, cfg.Cache.Backend, cfg.Cache.Project, slog.Default())
	if err != nil {
		slog.Warn("Pull request cache unavailable, continuing without it", "backend", cfg.Cache.Backend, "error", err)
		return nil
	}
	return c
}

// newGitHubClient builds the REST client of the configured repository.
func newGitHubClient(ctx context.Context, opts *options, cfg *config.Config, prCache cycletime.Cache) (*github.Client, error) {
	if cfg.GitHub.Organization == "" || cfg.GitHub.Repo == "" {
		return nil, errors.New("GITHUB_ORGANIZATION and GITHUB_REPO must be set")
	}
	token, err := githubToken(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return github.NewClient(github.Config{
		Token: token,
		Owner: cfg.GitHub.Organization,
		Repo:  cfg.GitHub.Repo,
		Team:  opts.team,
		Cache: prCache,
	})
}

// newSource returns the merged pull request source of the selected platform.
func newSource(ctx context.Context, opts *options, cfg *config.Config, prCache cycletime.Cache) (cycletime.Source, error) {
	if opts.host == hostGitHub {
		client, err := newGitHubClient(ctx, opts, cfg, prCache)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	if opts.team != "" {
		slog.Warn("Team filtering is only supported on GitHub, ignoring", "team", opts.team)
	}
	if cfg.Bitbucket.Workspace == "" || cfg.Bitbucket.Repo == "" {
		return nil, errors.New("BITBUCKET_WORKSPACE and BITBUCKET_REPO must be set")
	}
	client, err := bitbucket.NewClient(bitbucket.Config{
		Workspace:   cfg.Bitbucket.Workspace,
		Repo:        cfg.Bitbucket.Repo,
		Username:    cfg.Bitbucket.Username,
		AppPassword: cfg.Bitbucket.AppPassword,
		Cache:       prCache,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
