package types

import (
	"fmt"
	"time"
)

// QuietHoursWindow is a recurring local-time window during which trial tenants
// may not send SMS or voice actions. Start and End use "HH:MM" 24-hour form
// and the window may wrap midnight (e.g. 21:00-08:00). Times are interpreted
// in the tenant's IANA timezone.
type QuietHoursWindow struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// Validate checks that both bounds parse as HH:MM clock times. A malformed
// window is a provisioning-side configuration error raised at load time,
// never mid-request.
func (q *QuietHoursWindow) Validate() error {
	for _, v := range []string{q.Start, q.End} {
		if _, err := time.Parse("15:04", v); err != nil {
			return NewAppError(ErrCodeConfigQuietHours,
				fmt.Sprintf("quiet hours bound %q is not a valid HH:MM time", v), err)
		}
	}
	if q.Start == q.End {
		return NewAppError(ErrCodeConfigQuietHours,
			"quiet hours window must not be empty (start equals end)", nil)
	}
	return nil
}

// Contains reports whether the local wall-clock time t falls inside the
// window. Windows wrapping midnight are handled: 21:00-08:00 contains 23:30
// and 02:15 but not 12:00. The start bound is inclusive, the end exclusive.
func (q *QuietHoursWindow) Contains(t time.Time) bool {
	minutes := t.Hour()*60 + t.Minute()
	start := clockMinutes(q.Start)
	end := clockMinutes(q.End)
	if start < end {
		return minutes >= start && minutes < end
	}
	// Wraps midnight.
	return minutes >= start || minutes < end
}

// clockMinutes converts "HH:MM" to minutes-since-midnight. Assumes the value
// has already passed Validate; malformed input yields 0.
func clockMinutes(v string) int {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}
