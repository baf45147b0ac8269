package cohort

// CycleTimeGrade returns a letter grade and message based on the median cycle
// time in hours, measured from first commit to merge.
func CycleTimeGrade(medianHours float64) (grade, message string) {
	switch {
	case medianHours <= 4: // 4 hours
		return "A+", "World-class flow"
	case medianHours <= 24: // 1 day
		return "A", "High-performing team"
	case medianHours <= 84: // 3.5 days
		return "B", "Room for improvement"
	case medianHours <= 132: // 5.5 days
		return "C", "Sluggish"
	case medianHours <= 168: // 7 days (1 week)
		return "D", "Slow"
	default:
		return "F", "Failing"
	}
}

// FirstInteractionGrade grades the median wait, in hours, between opening a
// pull request and the first collaborator response.
func FirstInteractionGrade(medianHours float64) (grade, message string) {
	switch {
	case medianHours <= 1:
		return "A+", "Instant feedback"
	case medianHours <= 4:
		return "A", "Same morning"
	case medianHours <= 24:
		return "B", "Next day"
	case medianHours <= 72:
		return "C", "Waiting around"
	case medianHours <= 120:
		return "D", "Stalled"
	default:
		return "F", "Ignored"
	}
}

// ReviewCoverageGrade grades the percentage of pull requests that saw at least
// one conversation break, i.e. got a response from someone besides the author.
func ReviewCoverageGrade(reviewedPct float64) (grade, message string) {
	switch {
	case reviewedPct > 90:
		return "A", "Excellent"
	case reviewedPct > 80:
		return "B", "Good"
	case reviewedPct > 70:
		return "C", "Acceptable"
	case reviewedPct > 60:
		return "D", "Low"
	default:
		return "F", "Poor"
	}
}

// Grade is a letter grade with its explanation.
type Grade struct {
	Letter  string `json:"grade"`
	Message string `json:"message"`
}

// Grades are the headline grades of a cohort.
type Grades struct {
	CycleTime        *Grade `json:"cycle_time,omitempty"`
	FirstInteraction *Grade `json:"first_interaction,omitempty"`
	ReviewCoverage   *Grade `json:"review_coverage,omitempty"`
}

// GradeSummary grades a cohort. Grades without underlying data are left nil.
func GradeSummary(s *Summary) Grades {
	var g Grades
	if s.CycleTime.HasData() {
		letter, msg := CycleTimeGrade(*s.CycleTime.Median / 60)
		g.CycleTime = &Grade{Letter: letter, Message: msg}
	}
	if s.TimeToFirstInteraction.HasData() {
		letter, msg := FirstInteractionGrade(*s.TimeToFirstInteraction.Median / 60)
		g.FirstInteraction = &Grade{Letter: letter, Message: msg}
	}
	if s.PullRequests > 0 {
		pct := float64(s.PullRequests-s.Unreviewed) * 100 / float64(s.PullRequests)
		letter, msg := ReviewCoverageGrade(pct)
		g.ReviewCoverage = &Grade{Letter: letter, Message: msg}
	}
	return g
}
