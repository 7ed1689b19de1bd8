package scheduler

import (
	"time"

	"github.com/karoocap/foliotrack/internal/models"
)

// nextDate steps one frequency period forward from the current scheduled
// date. Month-based frequencies re-apply the rule's anchor day and clamp to
// the last valid day of the target month, so a rule anchored on the 31st
// lands on Feb 28/29 and returns to the 31st afterwards instead of drifting.
func nextDate(from time.Time, freq models.Frequency, customDays, anchorDay int) time.Time {
	from = models.DateOnly(from)
	switch freq {
	case models.FreqDaily:
		return from.AddDate(0, 0, 1)
	case models.FreqWeekly:
		return from.AddDate(0, 0, 7)
	case models.FreqCustom:
		if customDays <= 0 {
			customDays = 1
		}
		return from.AddDate(0, 0, customDays)
	case models.FreqAtMaturity:
		// Fires exactly once; there is no next occurrence.
		return from
	}

	months := freq.Months()
	if months == 0 {
		months = 1
	}
	if anchorDay <= 0 {
		anchorDay = from.Day()
	}
	y, m, _ := from.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := anchorDay
	if last := lastDayOfMonth(target); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, time.UTC)
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
