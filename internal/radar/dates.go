package radar

import "time"

// DateLayout is the calendar date format used in briefs and API payloads.
const DateLayout = "2006-01-02"

// Day returns the calendar date of t in loc as a UTC midnight timestamp.
// All date columns and date comparisons in the pipeline use this form.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders d as YYYY-MM-DD, or empty when d is nil.
func FormatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.UTC().Format(DateLayout)
}

// DaysBetween returns the rounded number of days from a to b.
func DaysBetween(a, b time.Time) int {
	hours := b.Sub(a).Hours()
	if hours >= 0 {
		return int((hours + 12) / 24)
	}
	return -int((-hours + 12) / 24)
}
