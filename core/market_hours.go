package core

import "time"

const (
	marketOpenHour  = 9
	marketOpenMin   = 15
	marketCloseHour = 15
	marketCloseMin  = 30
)

// IsMarketOpen reports whether t falls in the cash session, 09:15 to 15:30
// inclusive on weekdays, in t's own location.
func IsMarketOpen(t time.Time) bool {
	if isWeekend(t) {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), marketOpenHour, marketOpenMin, 0, 0, t.Location())
	closeAt := time.Date(t.Year(), t.Month(), t.Day(), marketCloseHour, marketCloseMin, 0, 0, t.Location())
	return !t.Before(open) && !t.After(closeAt)
}

// NextMarketOpen returns the next 09:15 session start. Once today's open has
// passed it moves to the following weekday.
func NextMarketOpen(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), marketOpenHour, marketOpenMin, 0, 0, t.Location())
	if !t.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for isWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
