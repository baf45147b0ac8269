// Package cohort reduces per pull request metrics into cohort statistics:
// medians and averages per metric, date ranges, and per-day counts used by the
// merge and deployment frequency reports.
package cohort

import (
	"slices"
)

// Policy decides which values take part in a median or average.
type Policy int

const (
	// ExcludeMissing drops unmeasurable values and keeps legitimate zeros.
	ExcludeMissing Policy = iota
	// ExcludeMissingAndZero also drops zeros, matching reports that treated
	// a zero-minute measurement as absent.
	ExcludeMissingAndZero
)

func (p Policy) String() string {
	if p == ExcludeMissingAndZero {
		return "exclude-missing-and-zero"
	}
	return "exclude-missing"
}

// ParsePolicy parses the String form of a policy. Unknown values yield false.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "exclude-missing", "":
		return ExcludeMissing, true
	case "exclude-missing-and-zero":
		return ExcludeMissingAndZero, true
	}
	return ExcludeMissing, false
}

// Statistic is the median and average of one metric across a cohort.
// When no value survives the policy, Samples is zero and both are nil.
type Statistic struct {
	Median  *float64 `json:"median"`
	Average *float64 `json:"average"`
	Samples int      `json:"samples"`
}

// HasData reports whether at least one value was summarized.
func (s Statistic) HasData() bool {
	return s.Samples > 0
}

// Summarize computes the median and average of values under policy.
// Nil entries are values that could not be measured.
func Summarize(values []*float64, policy Policy) Statistic {
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		if policy == ExcludeMissingAndZero && *v == 0 {
			continue
		}
		kept = append(kept, *v)
	}
	if len(kept) == 0 {
		return Statistic{}
	}

	slices.Sort(kept)
	n := len(kept)
	median := kept[n/2]
	if n%2 == 0 {
		median = (kept[n/2-1] + kept[n/2]) / 2
	}

	var sum float64
	for _, v := range kept {
		sum += v
	}
	average := sum / float64(n)

	return Statistic{Median: &median, Average: &average, Samples: n}
}

// Values converts plain numbers into measurable values for Summarize.
func Values[T ~int | ~float64](xs []T) []*float64 {
	out := make([]*float64, len(xs))
	for i, x := range xs {
		v := float64(x)
		out[i] = &v
	}
	return out
}
