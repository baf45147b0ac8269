package cohort

import (
	"slices"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// DateLayout is the calendar date format used as day bucket key.
const DateLayout = "2006-01-02"

// DayCounts maps a calendar date (DateLayout) to a number of occurrences.
type DayCounts map[string]int

// DayCount is a single day of a frequency report.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CountByDay tallies instants per calendar date in loc (time.Local when nil).
// Zero instants are ignored.
func CountByDay(instants []time.Time, loc *time.Location) DayCounts {
	if loc == nil {
		loc = time.Local
	}
	counts := DayCounts{}
	for _, t := range instants {
		if t.IsZero() {
			continue
		}
		counts[t.In(loc).Format(DateLayout)]++
	}
	return counts
}

// Dates returns the populated dates in ascending order.
func (d DayCounts) Dates() []string {
	dates := make([]string, 0, len(d))
	for date := range d {
		dates = append(dates, date)
	}
	slices.Sort(dates)
	return dates
}

// FullRange returns every date from the earliest to the latest populated date,
// with zero for days without occurrences.
func (d DayCounts) FullRange() []DayCount {
	dates := d.Dates()
	if len(dates) == 0 {
		return nil
	}
	start, err := time.Parse(DateLayout, dates[0])
	if err != nil {
		return nil
	}
	end, err := time.Parse(DateLayout, dates[len(dates)-1])
	if err != nil {
		return nil
	}

	var out []DayCount
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(DateLayout)
		out = append(out, DayCount{Date: date, Count: d[date]})
	}
	return out
}

// DeploymentDay pairs the mainline merges and production deployments of a day.
type DeploymentDay struct {
	Date        string `json:"date"`
	Merges      int    `json:"merges"`
	Deployments int    `json:"deployments"`
}

// CompareStreams lines up merges and deployments per day. Only dates present
// in at least one stream are listed, in ascending order.
func CompareStreams(merges, deployments DayCounts) []DeploymentDay {
	union := DayCounts{}
	for date := range merges {
		union[date] = 0
	}
	for date := range deployments {
		union[date] = 0
	}

	dates := union.Dates()
	out := make([]DeploymentDay, 0, len(dates))
	for _, date := range dates {
		out = append(out, DeploymentDay{Date: date, Merges: merges[date], Deployments: deployments[date]})
	}
	return out
}

// MergedInto returns the merge instants of pull requests merged into branch.
func MergedInto(prs []cycletime.PullRequest, branch string) []time.Time {
	var instants []time.Time
	for i := range prs {
		if prs[i].Merged() && prs[i].BaseBranch == branch {
			instants = append(instants, prs[i].MergedAt)
		}
	}
	return instants
}
