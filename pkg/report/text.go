// Package report renders cycle-time metrics as text and CSV result files.
package report

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cohort"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// Options describes one report run.
//
//nolint:govet // fieldalignment: struct field order optimized for API clarity
type Options struct {
	// Team scopes the header and the file name. Empty means the whole repository.
	Team             string
	WorkingHoursOnly bool
	// Prefix is prepended to result file names.
	Prefix string
	// Location renders timestamps and dates. Nil means time.Local.
	Location *time.Location
	// Policy summarizes the per pull request break durations, matching the
	// policy the overall statistics were aggregated with.
	Policy cohort.Policy
}

func (o *Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

const rule = "--------------------"

var definitions = []string{
	"Definitions",
	rule,
	"Time to open:                Time from first commit to when PR is created. When a PR is rebased & forced pushed, this might be ? minutes",
	"Time to first interaction:   Time from pr opening to the first collaborator interaction (comment/review)",
	"Time to merge:               Time from created to pr close",
	"Cycle time:                  Time from first commit || pr created to close",
	"Conversation break duration: Duration of break between author/collaborator interactions",
	"Conversation breaks:         Number of conversation breaks that happen in a PR - breaks are defined by a switch in speaker",
}

// WriteText writes the human readable report: header, definitions, overall
// statistics and one block per pull request, longest cycle time first.
func WriteText(w io.Writer, metrics []cycletime.Metrics, summary *cohort.Summary, opts Options) error {
	bw := bufio.NewWriter(w)
	loc := opts.location()

	if opts.Team != "" {
		fmt.Fprintf(bw, "------------- Git metrics for %s -------------\n\n", opts.Team)
	} else {
		fmt.Fprint(bw, "------------------- Git metrics -------------------\n\n")
	}
	fmt.Fprintln(bw, strings.Join(definitions, "\n"))

	writeOverall(bw, summary, loc)

	for _, m := range ByCycleTime(metrics) {
		fmt.Fprintln(bw)
		writePullRequest(bw, &m, opts.Policy, loc)
		fmt.Fprint(bw, "\n\n")
	}
	return bw.Flush()
}

func writeOverall(w io.Writer, s *cohort.Summary, loc *time.Location) {
	fmt.Fprintln(w)
	if s.FirstMerged.IsZero() {
		fmt.Fprintf(w, "Overall metrics for %d PRs:\n", s.PullRequests)
	} else {
		fmt.Fprintf(w, "Overall metrics for %d PRs spanning PRs merged on %s to %s:\n",
			s.PullRequests, Timestamp(s.FirstMerged, loc), Timestamp(s.LastMerged, loc))
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Time to open:                 %s\n", TimeStatistic(s.TimeToOpen))
	fmt.Fprintf(w, "Time to first interaction:    %s\n", TimeStatistic(s.TimeToFirstInteraction))
	fmt.Fprintf(w, "Time to merge:                %s\n", TimeStatistic(s.TimeToMerge))
	fmt.Fprintf(w, "Cycle time:                   %s\n", TimeStatistic(s.CycleTime))
	fmt.Fprintf(w, "Number of commits:            %s\n", NumberStatistic(s.Commits))
	fmt.Fprintf(w, "Number of files:              %s\n", NumberStatistic(s.Files))
	fmt.Fprintf(w, "Lines changed:                %s\n", NumberStatistic(s.LinesChanged))
	fmt.Fprintf(w, "Number of reviews:            %s\n", NumberStatistic(s.Reviews))
	fmt.Fprintf(w, "Conversation break duration:  %s\n", TimeStatistic(s.ConversationBreakDuration))
	fmt.Fprintf(w, "Conversation breaks:          %s\n", NumberStatistic(s.ConversationBreaks))
	fmt.Fprintf(w, "Number of unreviewed PRs:     %d/%d\n", s.Unreviewed, s.PullRequests)
}

func writePullRequest(w io.Writer, m *cycletime.Metrics, policy cohort.Policy, loc *time.Location) {
	breaks := cohort.Summarize(cohort.Values(m.ConversationBreakDurations), policy)
	durations := make([]string, len(m.ConversationBreakDurations))
	for i, d := range m.ConversationBreakDurations {
		durations[i] = Duration(&d)
	}

	fmt.Fprintf(w, "PR-%d: %s\n", m.Number, m.Title)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Time to open:                  %s\n", Duration(m.TimeToOpen))
	fmt.Fprintf(w, "Time to first interaction:     %s\n", Duration(m.TimeToFirstInteraction))
	fmt.Fprintf(w, "Time to merge:                 %s\n", Duration(m.TimeToMerge))
	fmt.Fprintf(w, "Cycle time:                    %s\n", Duration(m.CycleTime))
	fmt.Fprintf(w, "Number of commits:             %d\n", m.NumberOfCommits)
	fmt.Fprintf(w, "Number of files:               %d\n", m.NumberOfFiles)
	fmt.Fprintf(w, "Lines changed:                 %d\n", m.LinesChanged())
	fmt.Fprintf(w, "Number of reviews:             %d\n", m.NumberOfReviews)
	fmt.Fprintf(w, "Conversation break duration:   %s\n", TimeStatistic(breaks))
	fmt.Fprintf(w, "Conversation break durations:  %s\n", strings.Join(durations, ","))
	fmt.Fprintf(w, "Conversation breaks:           %d\n", m.ConversationBreaks)
	fmt.Fprint(w, "\nTimeline:")
	for _, e := range m.Events {
		fmt.Fprintf(w, "\n%s: %s", Timestamp(e.At, loc), e.Label)
	}
}

// ByCycleTime returns a copy of metrics sorted by cycle time, longest first.
// Pull requests with an unknown cycle time come last.
func ByCycleTime(metrics []cycletime.Metrics) []cycletime.Metrics {
	sorted := slices.Clone(metrics)
	slices.SortStableFunc(sorted, func(a, b cycletime.Metrics) int {
		switch {
		case a.CycleTime == nil && b.CycleTime == nil:
			return 0
		case a.CycleTime == nil:
			return 1
		case b.CycleTime == nil:
			return -1
		}
		return cmp.Compare(*b.CycleTime, *a.CycleTime)
	})
	return sorted
}

// Duration renders minutes as minutes, hours or days with two decimals.
// Unknown durations render as "? minutes".
func Duration(minutes *float64) string {
	if minutes == nil {
		return "? minutes"
	}
	switch m := *minutes; {
	case m > 1440:
		return fmt.Sprintf("%.2f days", m/1440)
	case m > 60:
		return fmt.Sprintf("%.2f hours", m/60)
	default:
		return fmt.Sprintf("%.2f minutes", m)
	}
}

// TimeStatistic renders the median and average of a duration statistic.
func TimeStatistic(s cohort.Statistic) string {
	if !s.HasData() {
		return "no data"
	}
	return fmt.Sprintf("median: %s, average: %s", Duration(s.Median), Duration(s.Average))
}

// NumberStatistic renders the median and average of a count statistic.
func NumberStatistic(s cohort.Statistic) string {
	if !s.HasData() {
		return "no data"
	}
	return fmt.Sprintf("median: %.2f, average: %.2f", *s.Median, *s.Average)
}

// Timestamp renders t as "Mon, Mar 4th 9:05am". The zero instant renders as "?".
func Timestamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "?"
	}
	t = t.In(loc)
	return fmt.Sprintf("%s, %s %d%s %s", t.Format("Mon"), t.Format("Jan"), t.Day(), ordinal(t.Day()), t.Format("3:04pm"))
}

func ordinal(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
