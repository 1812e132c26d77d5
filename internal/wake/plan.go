package wake

import (
	"time"

	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/schedule"
)

// checkpointDelay is how long after a slot's planned time its reminder is due.
const checkpointDelay = 60 * time.Minute

// QuietHours is a local-time window with no checks. Start > End wraps past
// midnight; Start == End disables it.
type QuietHours struct {
	Start int
	End   int
}

// Contains reports whether the local hour falls in the window.
func (q QuietHours) Contains(local time.Time) bool {
	h := local.Hour()
	switch {
	case q.Start == q.End:
		return false
	case q.Start > q.End:
		return h >= q.Start || h < q.End
	default:
		return h >= q.Start && h < q.End
	}
}

// end returns the next instant the window closes after local.
func (q QuietHours) end(local time.Time) time.Time {
	t := schedule.At(local, q.End, 0)
	if !t.After(local) {
		t = schedule.At(local.AddDate(0, 0, 1), q.End, 0)
	}
	return t
}

// NextCheck returns when the agent should wake next. local is the current
// time in the user's timezone and rec is today's meal record.
func NextCheck(local time.Time, prefs model.UserPreference, rec *model.MealDayRecord, quiet QuietHours, fallback time.Duration) time.Time {
	if quiet.Contains(local) {
		return quiet.end(local)
	}

	var (
		next  time.Time
		first time.Time
	)
	tomorrow := local.AddDate(0, 0, 1)
	for _, slot := range model.MealSlots {
		clock := prefs.MealTime(slot)
		if clock == "" {
			continue
		}
		h, m, err := model.ParseClock(clock)
		if err != nil {
			continue
		}
		if t := schedule.At(tomorrow, h, m); first.IsZero() || t.Before(first) {
			first = t
		}

		st := rec.Slot(slot)
		if st.Completed || st.NotifiedAt != nil {
			continue
		}
		checkpoint := schedule.At(local, h, m).Add(checkpointDelay)
		if checkpoint.After(local) && (next.IsZero() || checkpoint.Before(next)) {
			next = checkpoint
		}
	}

	switch {
	case !next.IsZero():
		return next
	case !first.IsZero():
		return first
	default:
		return local.Add(fallback)
	}
}
