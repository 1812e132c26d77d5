package schedule

import (
	"time"

	"github.com/dukerupert/mealminder/internal/model"
)

const dayLayout = "2006-01-02"

// LocalNow converts an instant to the user's wall clock.
func LocalNow(u model.UserPreference, now time.Time) time.Time {
	return now.In(u.Location())
}

// LocalDay returns the user's calendar date (YYYY-MM-DD) at now.
func LocalDay(u model.UserPreference, now time.Time) string {
	return LocalNow(u, now).Format(dayLayout)
}

// DayBounds returns the instants of local midnight starting the day containing
// now and the next local midnight. On DST transition days the interval is 23
// or 25 hours long.
func DayBounds(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start, end
}

// At returns the instant of hh:mm on the same local date as local.
func At(local time.Time, hour, minute int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
}
