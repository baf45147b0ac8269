package cycletime

// DetectBreaks returns the duration, in minutes, of every conversation break
// in a sorted timeline.
//
// A break is a pair of adjacent events where the author is followed by a
// collaborator or a collaborator by the author. Commit events take part in the
// walk. RoleNone events never start or end a break, but they do sit between
// their neighbours.
func DetectBreaks(events []Event, cfg Config) []float64 {
	breaks := []float64{}
	for i := 1; i < len(events); i++ {
		prev, curr := events[i-1], events[i]
		if !isTurn(prev.Role, curr.Role) {
			continue
		}
		if minutes, ok := cfg.Diff(curr.At, prev.At); ok {
			breaks = append(breaks, minutes)
		}
	}
	return breaks
}

func isTurn(prev, curr Role) bool {
	return (prev == RoleAuthor && curr == RoleCollaborator) ||
		(prev == RoleCollaborator && curr == RoleAuthor)
}
