package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DefaultDir is where result files are written.
const DefaultDir = "results"

// Result file kinds.
const (
	KindCycleTime      = "cycle_time"
	KindMergeFrequency = "merge_freq"
	KindDeployment     = "deployment_freq"
)

// FileName returns the result path for a report of kind, for example
// results/nightly_cycle_time_core_4-3-2024_work_hours_metrics.txt.
// Cycle-time names carry the team and the hours mode; deployment names carry
// neither.
func FileName(dir, kind, ext string, opts Options, today time.Time) string {
	var name string
	if opts.Prefix != "" {
		name = opts.Prefix + "_"
	}
	name += kind
	if opts.Team != "" && kind != KindDeployment {
		name += "_" + opts.Team
	}
	today = today.In(opts.location())
	name += fmt.Sprintf("_%d-%d-%d", today.Day(), int(today.Month()), today.Year())
	if kind == KindCycleTime {
		if opts.WorkingHoursOnly {
			name += "_work_hours"
		} else {
			name += "_all_hours"
		}
	}
	return filepath.Join(dir, name+"_metrics."+ext)
}

// WriteFile creates path, including missing directories, and fills it with write.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create result directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close result file: %w", cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
