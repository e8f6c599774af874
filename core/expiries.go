package core

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// expiryBuffer extends the calculated expiry universe past the backtest range
const expiryBufferDays = 60

// CalculateWeeklyExpiries returns every Thursday from the first Thursday on or
// after from through to plus 60 days. Index options expire weekly on Thursday,
// and the gateway only lists expiries from today forward, so historical runs
// compute them instead.
func CalculateWeeklyExpiries(from, to time.Time) []time.Time {
	start := dateOf(from)
	end := dateOf(to).AddDate(0, 0, expiryBufferDays)

	offset := (int(time.Thursday) - int(start.Weekday()) + 7) % 7
	current := start.AddDate(0, 0, offset)

	var expiries []time.Time
	for !current.After(end) {
		expiries = append(expiries, current)
		current = current.AddDate(0, 0, 7)
	}

	log.Debug().Int("count", len(expiries)).Msg("📅 Weekly expiries calculated")
	return expiries
}

// NearestExpiry returns the expiry strictly after day with the fewest days to go
func NearestExpiry(day time.Time, expiries []time.Time) (time.Time, bool) {
	d := dateOf(day)
	var best time.Time
	bestDays := -1
	for _, e := range expiries {
		days := DaysBetween(d, e)
		if days <= 0 {
			continue
		}
		if bestDays < 0 || days < bestDays {
			best, bestDays = dateOf(e), days
		}
	}
	return best, bestDays > 0
}

// DaysBetween counts calendar days from a to b
func DaysBetween(a, b time.Time) int {
	da := dateOf(a)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, da.Location())
	return int(math.Round(db.Sub(da).Hours() / 24))
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
