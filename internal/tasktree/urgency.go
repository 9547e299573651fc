package tasktree

import (
	"math"
	"time"
)

type Urgency string

const (
	UrgencyNone     Urgency = ""
	UrgencyOverdue  Urgency = "overdue"
	UrgencyDanger   Urgency = "due-danger"
	UrgencyWarning  Urgency = "due-warning"
	UrgencyUpcoming Urgency = "due-upcoming"
)

// Thresholds are inclusive upper bounds in days. A zero Upcoming disables that tier.
type Thresholds struct {
	Danger   int
	Warning  int
	Upcoming int
}

var (
	TaskThresholds    = Thresholds{Danger: 3, Warning: 7, Upcoming: 14}
	SubtaskThresholds = Thresholds{Danger: 3, Warning: 10}
)

// DaysUntil is the whole-day distance from now's day to due's day, both in now's location.
func DaysUntil(due, now time.Time) int {
	loc := now.Location()
	d := due.In(loc)
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	// Round instead of truncating so DST transitions don't shift the day count.
	return int(math.Round(dueDay.Sub(today).Hours() / 24))
}

// Classify buckets a due date. Completed items and items without a date get UrgencyNone.
func Classify(due *time.Time, completed bool, now time.Time, th Thresholds) Urgency {
	if completed || due == nil || due.IsZero() {
		return UrgencyNone
	}
	days := DaysUntil(*due, now)
	switch {
	case days < 0:
		return UrgencyOverdue
	case days <= th.Danger:
		return UrgencyDanger
	case days <= th.Warning:
		return UrgencyWarning
	case th.Upcoming > 0 && days <= th.Upcoming:
		return UrgencyUpcoming
	default:
		return UrgencyNone
	}
}
