package cycletime

import "time"

// Window is the working span of a single day, as offsets from midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Calendar is a fixed weekly working-hours calendar.
// Days without an entry are not worked at all.
type Calendar struct {
	// Location is the reference timezone the windows are expressed in.
	// A nil Location means time.Local.
	Location *time.Location
	Days     map[time.Weekday]Window
}

// DefaultCalendar returns Monday to Friday, 04:00 to 19:00 local time.
func DefaultCalendar() Calendar {
	day := Window{Start: 4 * time.Hour, End: 19 * time.Hour}
	return Calendar{
		Location: time.Local,
		Days: map[time.Weekday]Window{
			time.Monday:    day,
			time.Tuesday:   day,
			time.Wednesday: day,
			time.Thursday:  day,
			time.Friday:    day,
		},
	}
}

// In returns a copy of the calendar anchored to loc.
func (c Calendar) In(loc *time.Location) Calendar {
	c.Location = loc
	return c
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Diff returns the elapsed minutes from earlier to later.
//
// The boolean is false when the duration is not measurable: either instant is
// zero, or later falls in a minute strictly before earlier's minute. Inverted
// pairs are common after rebases and squash merges rewrite commit dates, so
// they are reported as unknown rather than as an error. Two instants inside the
// same minute never count as inverted and yield 0 when later < earlier.
//
// With workingHoursOnly the result only counts time inside the calendar's
// windows, prorated to fractions of a minute.
func (c Calendar) Diff(later, earlier time.Time, workingHoursOnly bool) (float64, bool) {
	if later.IsZero() || earlier.IsZero() {
		return 0, false
	}
	if later.Truncate(time.Minute).Before(earlier.Truncate(time.Minute)) {
		return 0, false
	}
	if !later.After(earlier) {
		return 0, true
	}
	if workingHoursOnly {
		return c.working(earlier, later).Minutes(), true
	}
	return later.Sub(earlier).Minutes(), true
}

// working sums the overlap of [from, to] with every working window.
func (c Calendar) working(from, to time.Time) time.Duration {
	loc := c.location()
	from = from.In(loc)
	to = to.In(loc)

	var total time.Duration
	y, m, d := from.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); !day.After(to); day = day.AddDate(0, 0, 1) {
		w, ok := c.Days[day.Weekday()]
		if !ok || w.End <= w.Start {
			continue
		}
		start := wallClock(day, w.Start)
		end := wallClock(day, w.End)
		if from.After(start) {
			start = from
		}
		if to.Before(end) {
			end = to
		}
		if end.After(start) {
			total += end.Sub(start)
		}
	}
	return total
}

// wallClock returns the instant at offset past midnight on day's date.
// time.Date normalizes the nanosecond overflow, so DST days keep wall-clock hours.
func wallClock(day time.Time, offset time.Duration) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, int(offset), day.Location())
}
