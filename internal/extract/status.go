package extract

import (
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

// ComputeStatus derives the subsidy status for today from extracted dates.
// today and the range dates are calendar days at UTC midnight.
func ComputeStatus(today time.Time, r DateRange) radar.SubsidyStatus {
	d := r.Deadline
	if d == nil {
		d = r.End
	}
	if d == nil {
		d = r.Start
	}
	if d == nil {
		return radar.StatusUnknown
	}
	if r.Start != nil && today.Before(*r.Start) {
		return radar.StatusUpcoming
	}
	if today.After(*d) {
		return radar.StatusExpired
	}
	return radar.StatusActive
}

// Signals are the independent extraction outcomes scored by Confidence.
type Signals struct {
	Title        bool
	Body         bool
	Date         bool
	Municipality bool
}

// Confidence scores signals as 20 (title) + 20 (body) + 30 (date) +
// 30 (municipality), capped at 100.
func Confidence(s Signals) int {
	n := 0
	if s.Title {
		n += 20
	}
	if s.Body {
		n += 20
	}
	if s.Date {
		n += 30
	}
	if s.Municipality {
		n += 30
	}
	return min(n, 100)
}
