// Package main implements a CLI tool to measure the cycle time of pull requests
// and how often work reaches the mainline and production.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/prcycle/internal/config"
	"github.com/codeGROOVE-dev/prcycle/pkg/cohort"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
	"github.com/codeGROOVE-dev/prcycle/pkg/report"
)

// Subcommands.
const (
	cmdCycleTime  = "cycle-time"
	cmdMerges     = "merge-frequency"
	cmdDeployment = "deployment-frequency"
)

// Hosting platforms selected with -c.
const (
	hostGitHub    = "gh"
	hostBitbucket = "bb"
)

// options holds the parsed command line.
//
//nolint:govet // fieldalignment: field order mirrors the flag list
type options struct {
	command      string
	workingHours bool
	weeks        int
	team         string
	prefix       string
	host         string
	branch       string
	format       string
	dataSource   string
	org          string
	prURL        string
	policy       cohort.Policy
	sample       int
	outDir       string
	stdout       bool
	envFile      string
	verbose      bool
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("%v", err)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx := context.Background()
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(ctx, opts, cfg); err != nil {
		log.Fatalf("%s failed: %v", opts.command, err)
	}
}

// parseArgs parses the subcommand and its flags. The subcommand defaults to
// cycle-time; a single positional argument is a pull request URL.
func parseArgs(args []string, output io.Writer) (*options, error) {
	opts := &options{command: cmdCycleTime}
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case cmdCycleTime, cmdMerges, cmdDeployment:
			opts.command = args[0]
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet(opts.command, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&opts.workingHours, "w", false, "Only count time inside working hours")
	fs.IntVar(&opts.weeks, "p", 1, "Period in weeks of merged pull requests to analyze")
	fs.StringVar(&opts.team, "t", "", "Restrict to members of this GitHub team slug")
	fs.StringVar(&opts.prefix, "f", "", "Prefix of result file names")
	fs.StringVar(&opts.host, "c", hostGitHub, "Hosting platform: gh (GitHub) or bb (Bitbucket)")
	fs.StringVar(&opts.branch, "b", "main", "Mainline branch for frequency reports")
	fs.StringVar(&opts.format, "format", "", "Output format: text, csv or json (default text, csv for frequency reports)")
	fs.StringVar(&opts.dataSource, "data-source", github.SourcePRX, "Data source for single and organization PRs: prx or turnserver")
	fs.StringVar(&opts.org, "org", "", "Analyze pull requests across a GitHub organization")
	fs.StringVar(&opts.prURL, "url", "", "Analyze a single GitHub pull request")
	fs.IntVar(&opts.sample, "sample", 0, "Sample this many organization PRs (0 analyzes all)")
	fs.StringVar(&opts.outDir, "o", report.DefaultDir, "Directory of result files")
	fs.BoolVar(&opts.stdout, "stdout", false, "Write the report to standard output instead of a file")
	fs.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Optional .env file with credentials")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	policy := fs.String("policy", cohort.ExcludeMissing.String(),
		"Cohort statistics policy: exclude-missing or exclude-missing-and-zero")

	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: prcycle [%s|%s|%s] [options] [PR_URL]\n\n", cmdCycleTime, cmdMerges, cmdDeployment)
		fmt.Fprintf(output, "Measure pull request cycle time, merge frequency and deployment frequency.\n\n")
		fmt.Fprintf(output, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(output, "\nExamples:\n")
		fmt.Fprintf(output, "  prcycle -p 4 -w -t core\n")
		fmt.Fprintf(output, "  prcycle -c bb -format csv\n")
		fmt.Fprintf(output, "  prcycle https://github.com/owner/repo/pull/123\n")
		fmt.Fprintf(output, "  prcycle -org acme -sample 50 -p 2\n")
		fmt.Fprintf(output, "  prcycle %s -b main -p 8\n", cmdDeployment)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		if opts.prURL != "" {
			return nil, errors.New("pull request URL given twice")
		}
		opts.prURL = fs.Arg(0)
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	var ok bool
	if opts.policy, ok = cohort.ParsePolicy(*policy); !ok {
		return nil, fmt.Errorf("unknown policy %q", *policy)
	}
	if opts.weeks <= 0 {
		return nil, fmt.Errorf("period must be a positive number of weeks, got %d", opts.weeks)
	}
	if opts.host != hostGitHub && opts.host != hostBitbucket {
		return nil, fmt.Errorf("unknown platform %q (must be gh or bb)", opts.host)
	}
	if opts.sample < 0 {
		return nil, errors.New("sample must not be negative")
	}
	if opts.dataSource != github.SourcePRX && opts.dataSource != github.SourceTurnserver {
		return nil, fmt.Errorf("unknown data source %q", opts.dataSource)
	}

	if opts.format == "" {
		opts.format = "text"
		if opts.command != cmdCycleTime {
			opts.format = "csv"
		}
	}
	allowed := []string{"text", "csv", "json"}
	if opts.command != cmdCycleTime {
		allowed = []string{"csv", "json"}
	}
	if !slices.Contains(allowed, opts.format) {
		return nil, fmt.Errorf("unknown format %q for %s (must be one of %s)", opts.format, opts.command, strings.Join(allowed, ", "))
	}

	if opts.command == cmdCycleTime {
		if opts.prURL != "" && opts.org != "" {
			return nil, errors.New("-org and a pull request URL are mutually exclusive")
		}
		if opts.prURL != "" {
			if _, _, _, err := github.ParsePRURL(opts.prURL); err != nil {
				return nil, fmt.Errorf("invalid PR URL: %w", err)
			}
		}
	} else if opts.prURL != "" || opts.org != "" {
		return nil, fmt.Errorf("%s analyzes a repository; -org and PR URLs are not supported", opts.command)
	}
	if (opts.prURL != "" || opts.org != "" || opts.command == cmdDeployment) && opts.host != hostGitHub {
		return nil, errors.New("single PR, organization and deployment reports are only available for GitHub")
	}
	return opts, nil
}

func run(ctx context.Context, opts *options, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	switch opts.command {
	case cmdMerges:
		return runMergeFrequency(ctx, opts, cfg, loc)
	case cmdDeployment:
		return runDeploymentFrequency(ctx, opts, cfg, loc)
	default:
		return runCycleTime(ctx, opts, cfg, loc)
	}
}

// githubToken prefers GITHUB_TOKEN and falls back to the gh CLI.
func githubToken(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.GitHub.Token != "" {
		return cfg.GitHub.Token, nil
	}
	token, err := getGitHubToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w\nPlease set GITHUB_TOKEN or ensure 'gh' is installed and authenticated (run 'gh auth login')", err)
	}
	return token, nil
}

// getGitHubToken retrieves a GitHub token using the gh CLI.
func getGitHubToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", "auth", "token")
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.New("timeout getting auth token")
		}
		return "", fmt.Errorf("failed to get auth token (is 'gh' installed and authenticated?): %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// emit writes a report to stdout or to its result file.
func emit(opts *options, kind, ext string, ropts report.Options, write func(io.Writer) error) error {
	if opts.stdout {
		return write(os.Stdout)
	}
	path := report.FileName(opts.outDir, kind, ext, ropts, time.Now())
	if err := report.WriteFile(path, write); err != nil {
		return err
	}
	fmt.Printf("Results written to %s\n", path)
	return nil
}
