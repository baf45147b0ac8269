// Package main prints the effective configuration and working hours calendar.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/codeGROOVE-dev/prcycle/internal/config"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("GitHub: %s/%s (token set: %t)\n", cfg.GitHub.Organization, cfg.GitHub.Repo, cfg.GitHub.Token != "")
	fmt.Printf("Bitbucket: %s/%s (app password set: %t)\n", cfg.Bitbucket.Workspace, cfg.Bitbucket.Repo, cfg.Bitbucket.AppPassword != "")
	fmt.Printf("Sentry: %s/%s (token set: %t)\n", cfg.Sentry.Organization, cfg.Sentry.Environment, cfg.Sentry.Token != "")
	fmt.Printf("Cache: %s %s\n", cfg.Cache.Backend, cfg.Cache.Project)

	cal := cycletime.DefaultCalendar().In(loc)
	fmt.Printf("\nWorking hours (%s):\n", loc)
	for day := time.Sunday; day <= time.Saturday; day++ {
		w, ok := cal.Days[day]
		if !ok {
			fmt.Printf("  %-9s -\n", day)
			continue
		}
		fmt.Printf("  %-9s %s - %s\n", day, clock(w.Start), clock(w.End))
	}
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
