package scheduler

import (
	"testing"
	"time"

	"github.com/karoocap/foliotrack/internal/models"
)

func d(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func TestNextDateSimpleSteps(t *testing.T) {
	cases := []struct {
		freq models.Frequency
		from time.Time
		want time.Time
	}{
		{models.FreqDaily, d(2024, 3, 31), d(2024, 4, 1)},
		{models.FreqWeekly, d(2024, 2, 26), d(2024, 3, 4)},
		{models.FreqMonthly, d(2024, 4, 15), d(2024, 5, 15)},
		{models.FreqQuarterly, d(2024, 1, 10), d(2024, 4, 10)},
		{models.FreqSemiAnnual, d(2024, 1, 10), d(2024, 7, 10)},
		{models.FreqAnnual, d(2024, 2, 29), d(2025, 2, 28)},
	}
	for _, tc := range cases {
		got := nextDate(tc.from, tc.freq, 0, 0)
		if !got.Equal(tc.want) {
			t.Errorf("nextDate(%s, %s) = %s, want %s",
				tc.from.Format("2006-01-02"), tc.freq, got.Format("2006-01-02"), tc.want.Format("2006-01-02"))
		}
	}
}

func TestNextDateEndOfMonthClamp(t *testing.T) {
	// Monthly anchored on the 31st: short months resolve to their last day.
	got := nextDate(d(2024, 1, 31), models.FreqMonthly, 0, 31)
	if !got.Equal(d(2024, 2, 29)) {
		t.Errorf("Jan 31 + 1mo = %s, want 2024-02-29", got.Format("2006-01-02"))
	}
	// And the anchor pulls the schedule back to the 31st, no drift.
	got = nextDate(got, models.FreqMonthly, 0, 31)
	if !got.Equal(d(2024, 3, 31)) {
		t.Errorf("Feb 29 + 1mo (anchor 31) = %s, want 2024-03-31", got.Format("2006-01-02"))
	}
	got = nextDate(got, models.FreqMonthly, 0, 31)
	if !got.Equal(d(2024, 4, 30)) {
		t.Errorf("Mar 31 + 1mo (anchor 31) = %s, want 2024-04-30", got.Format("2006-01-02"))
	}
}

func TestNextDateNonLeapFebruary(t *testing.T) {
	got := nextDate(d(2025, 1, 31), models.FreqMonthly, 0, 31)
	if !got.Equal(d(2025, 2, 28)) {
		t.Errorf("Jan 31 2025 + 1mo = %s, want 2025-02-28", got.Format("2006-01-02"))
	}
}

func TestNextDateCustomDays(t *testing.T) {
	got := nextDate(d(2024, 1, 1), models.FreqCustom, 45, 0)
	if !got.Equal(d(2024, 2, 15)) {
		t.Errorf("custom 45d = %s, want 2024-02-15", got.Format("2006-01-02"))
	}
}
