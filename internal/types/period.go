package types

import (
	"fmt"
	"time"
)

// Period is a usage accounting period key. Monthly periods use the form
// "2026-08"; daily sub-periods (trial micro-caps) use "2026-08-30". Period
// boundaries are always computed in UTC so that rollover is consistent between
// the authorizer and the ledgers regardless of tenant timezone.
type Period string

// MonthPeriod returns the calendar-month period containing t (UTC).
func MonthPeriod(t time.Time) Period {
	u := t.UTC()
	return Period(fmt.Sprintf("%04d-%02d", u.Year(), int(u.Month())))
}

// DayPeriod returns the calendar-day period containing t (UTC).
func DayPeriod(t time.Time) Period {
	u := t.UTC()
	return Period(fmt.Sprintf("%04d-%02d-%02d", u.Year(), int(u.Month()), u.Day()))
}

// PreviousMonth returns the month period immediately before p. p must be a
// monthly period key.
func (p Period) PreviousMonth() Period {
	t, err := time.Parse("2006-01", string(p))
	if err != nil {
		return ""
	}
	return MonthPeriod(t.AddDate(0, -1, 0))
}

// MonthBounds returns the inclusive start and exclusive end of the monthly
// period containing t, in UTC.
func MonthBounds(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// DaysInMonth returns the number of calendar days in the month containing t.
func DaysInMonth(t time.Time) int {
	start, end := MonthBounds(t)
	return int(end.Sub(start).Hours() / 24)
}

// DaysRemainingInMonth counts the days from t through the end of its month,
// with the day containing t included. Used for bump proration.
func DaysRemainingInMonth(t time.Time) int {
	u := t.UTC()
	return DaysInMonth(u) - u.Day() + 1
}

// QuarterKey returns a rolling-quarter window start for forgiveness
// accounting: the instant 90 days before t. A forgiveness credit is available
// when no forgiveness was consumed at or after this instant.
func QuarterKey(t time.Time) time.Time {
	return t.UTC().AddDate(0, 0, -90)
}
