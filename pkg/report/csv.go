package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/codeGROOVE-dev/prcycle/pkg/cohort"
	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

var prHeader = []string{
	"PR number",
	"Created at",
	"Time to open (minutes)",
	"Time to first interaction (minutes)",
	"Time to merge (minutes)",
	"Cycle time (minutes)",
	"Number of commits",
	"Number of files",
	"Total additions",
	"Total deletions",
	"Number of reviews",
}

// WritePullRequestCSV writes one row per pull request in input order. Unknown
// durations are left empty.
func WritePullRequestCSV(w io.Writer, metrics []cycletime.Metrics, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(prHeader); err != nil {
		return err
	}
	loc := opts.location()
	for i := range metrics {
		m := &metrics[i]
		row := []string{
			"PR-" + strconv.Itoa(m.Number),
			m.CreatedAt.In(loc).Format(cohort.DateLayout),
			minutes(m.TimeToOpen),
			minutes(m.TimeToFirstInteraction),
			minutes(m.TimeToMerge),
			minutes(m.CycleTime),
			strconv.Itoa(m.NumberOfCommits),
			strconv.Itoa(m.NumberOfFiles),
			strconv.Itoa(m.Additions),
			strconv.Itoa(m.Deletions),
			strconv.Itoa(m.NumberOfReviews),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMergeFrequencyCSV writes merges per day over the full date range, with
// days without merges as zero.
func WriteMergeFrequencyCSV(w io.Writer, merges cohort.DayCounts, branch string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Number of merges to " + branch}); err != nil {
		return err
	}
	for _, d := range merges.FullRange() {
		if err := cw.Write([]string{d.Date, strconv.Itoa(d.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDeploymentFrequencyCSV writes mainline merges next to production
// deployments for every date present in either stream.
func WriteDeploymentFrequencyCSV(w io.Writer, days []cohort.DeploymentDay, branch string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Number of merges to " + branch, "Deployments"}); err != nil {
		return err
	}
	for _, d := range days {
		if err := cw.Write([]string{d.Date, strconv.Itoa(d.Merges), strconv.Itoa(d.Deployments)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func minutes(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
