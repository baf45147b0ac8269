// Package main prints the reconstructed timeline of one pull request and
// traces its conversation breaks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
	"github.com/codeGROOVE-dev/prcycle/pkg/github"
)

func main() {
	workingHours := flag.Bool("w", false, "Only count time inside working hours")
	dataSource := flag.String("data-source", github.SourcePRX, "prx or turnserver")
	flag.Parse()

	ctx := context.Background()
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "GITHUB_TOKEN not set")
		os.Exit(1)
	}

	prURL := "https://github.com/chainguard-dev/malcontent/pull/1155"
	if flag.NArg() > 0 {
		prURL = flag.Arg(0)
	}

	fetcher := &github.SimpleFetcher{Token: token, DataSource: *dataSource}
	pr, err := fetcher.FetchPullRequest(ctx, prURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	events, err := cycletime.ExtractEvents(&pr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("PR Author: %s\n", pr.Author.Login)
	fmt.Printf("Total Events: %d\n", len(events))
	fmt.Println("\nAll Events (sorted by time):")
	for _, e := range events {
		at := "?"
		if !e.At.IsZero() {
			at = e.At.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %-19s | %-12s | %-16s | %s\n", at, e.Role, e.Kind, e.Actor)
	}

	cfg := cycletime.DefaultConfig()
	cfg.WorkingHoursOnly = *workingHours

	fmt.Println("\nConversation Breaks:")
	traced := 0
	for i := 1; i < len(events); i++ {
		prev, curr := events[i-1], events[i]
		if prev.Role == cycletime.RoleNone || curr.Role == cycletime.RoleNone || prev.Role == curr.Role {
			continue
		}
		minutes, ok := cfg.Diff(curr.At, prev.At)
		if !ok {
			fmt.Printf("  %s -> %s: unmeasurable (%s before %s)\n", prev.Role, curr.Role, curr.At, prev.At)
			continue
		}
		traced++
		fmt.Printf("  Break %d: %s (%s) -> %s (%s): %.2f minutes\n",
			traced, prev.Actor, prev.Kind, curr.Actor, curr.Kind, minutes)
	}

	metrics, err := cycletime.Compute(pr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nACTUAL (from Compute):")
	fmt.Printf("  Conversation breaks: %d (traced %d)\n", metrics.ConversationBreaks, traced)
	fmt.Printf("  Time to open:                %s\n", minutesOrUnknown(metrics.TimeToOpen))
	fmt.Printf("  Time to first interaction:   %s\n", minutesOrUnknown(metrics.TimeToFirstInteraction))
	fmt.Printf("  Time to merge:               %s\n", minutesOrUnknown(metrics.TimeToMerge))
	fmt.Printf("  Cycle time:                  %s\n", minutesOrUnknown(metrics.CycleTime))

	// Full metrics without the timeline already printed above.
	metrics.Events = nil
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	fmt.Println("\nFull Metrics:")
	if err := enc.Encode(metrics); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
	}
}

func minutesOrUnknown(v *float64) string {
	if v == nil {
		return "?"
	}
	return (time.Duration(*v * float64(time.Minute))).Round(time.Second).String()
}
