// Package schedule decides whether a notification policy fires for a user at
// a given instant. Evaluation is pure: no I/O and no reads of the system clock.
package schedule

import (
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
)

const (
	morningHour      = 7
	nightHour        = 20
	latestNightHour  = 23
	defaultDailyHour = 9
	waterFirstHour   = 8
	waterLastHour    = 22
)

// Decision is the outcome of evaluating one policy for one user.
type Decision struct {
	Fire   bool
	Reason string
	// Slot is set for meal reminders; the caller must still consult the
	// meal completion reconciler before sending.
	Slot model.MealSlot
}

// Evaluator applies the per-type rules.
//
// Window selects the match semantics for clock-targeted rules. Zero means the
// local hour must equal the target hour. A positive window matches when the
// local time is within ±Window of the exact target time.
type Evaluator struct {
	Window time.Duration
}

// Evaluate returns whether policy fires for user at now.
func (e Evaluator) Evaluate(policy model.NotificationPolicy, user model.UserPreference, now time.Time) Decision {
	if !policy.IsActive || !policy.IsEnabled {
		return skip("policy disabled")
	}
	if !user.NotificationsEnabled {
		return skip("notifications disabled")
	}

	c := clock{local: LocalNow(user, now), window: e.Window}
	return RuleFor(policy).evaluate(c, user)
}

// Rule is one per-type scheduling rule.
type Rule interface {
	evaluate(c clock, user model.UserPreference) Decision
}

// RuleFor selects the rule variant for a policy.
func RuleFor(p model.NotificationPolicy) Rule {
	if slot, ok := p.MealSlot(); ok {
		return mealRule{slot: slot}
	}

	switch p.Type {
	case model.TypeGoodMorning:
		return goodMorningRule{}
	case model.TypeGoodNight:
		return goodNightRule{}
	case model.TypeWaterReminder:
		return waterRule{}
	case model.TypeWeeklyWeight, model.TypeWeeklyMeasurement:
		return weeklyRule{target: targetTime(p.ScheduleTime)}
	}

	switch p.RepeatPattern {
	case model.RepeatHourly:
		return waterRule{}
	case model.RepeatWeekly:
		return weeklyRule{target: targetTime(p.ScheduleTime)}
	case model.RepeatMonthly:
		return monthlyRule{target: targetTime(p.ScheduleTime)}
	case model.RepeatOnce:
		return onceRule{target: targetTime(p.ScheduleTime), fired: p.LastFiredAt != nil}
	}
	return dailyRule{target: targetTime(p.ScheduleTime)}
}

type hm struct{ hour, minute int }

func targetTime(schedule string) hm {
	if schedule == "" {
		return hm{hour: defaultDailyHour}
	}
	h, m, err := model.ParseClock(schedule)
	if err != nil {
		return hm{hour: defaultDailyHour}
	}
	return hm{hour: h, minute: m}
}

// clock is the user's local time plus the match semantics.
type clock struct {
	local  time.Time
	window time.Duration
}

func (c clock) matches(t hm) bool {
	return Matches(c.local, t.hour, t.minute, c.window)
}

// Matches reports whether local wall time hits the hour:minute target. With a
// zero window only the hour is compared; otherwise local must be within
// ±window of the exact target on the same date.
func Matches(local time.Time, hour, minute int, window time.Duration) bool {
	if window <= 0 {
		return local.Hour() == hour
	}
	diff := local.Sub(At(local, hour, minute))
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

type goodMorningRule struct{}

func (goodMorningRule) evaluate(c clock, _ model.UserPreference) Decision {
	if c.matches(hm{hour: morningHour}) {
		return fire("good morning hour")
	}
	return skip(fmt.Sprintf("local hour %d is not %d", c.local.Hour(), morningHour))
}

type goodNightRule struct{}

// GoodNightHour is one hour after dinner, no earlier than 20 and no later than 23.
func GoodNightHour(user model.UserPreference) int {
	if user.DinnerTime == "" {
		return nightHour
	}
	h, _, err := model.ParseClock(user.DinnerTime)
	if err != nil {
		return nightHour
	}
	return min(max(nightHour, h+1), latestNightHour)
}

func (goodNightRule) evaluate(c clock, user model.UserPreference) Decision {
	target := GoodNightHour(user)
	if c.matches(hm{hour: target}) {
		return fire("good night hour")
	}
	return skip(fmt.Sprintf("local hour %d is not %d", c.local.Hour(), target))
}

type waterRule struct{}

func (waterRule) evaluate(c clock, user model.UserPreference) Decision {
	if !user.WaterEnabled {
		return skip("water reminders disabled")
	}
	h := c.local.Hour()
	if h < waterFirstHour || h > waterLastHour {
		return skip("outside hydration hours")
	}
	if h%2 != 0 {
		return skip("odd hour")
	}
	return fire("hydration hour")
}

type mealRule struct {
	slot model.MealSlot
}

// MealTriggerHour is the hour after the slot's configured time. ok is false
// when the slot is unset or the trigger would fall past midnight.
func MealTriggerHour(user model.UserPreference, slot model.MealSlot) (hour, minute int, ok bool) {
	t := user.MealTime(slot)
	if t == "" {
		return 0, 0, false
	}
	h, m, err := model.ParseClock(t)
	if err != nil || h+1 > 23 {
		return 0, 0, false
	}
	return h + 1, m, true
}

func (r mealRule) evaluate(c clock, user model.UserPreference) Decision {
	if !user.MealEnabled {
		return skip("meal reminders disabled")
	}
	h, m, ok := MealTriggerHour(user, r.slot)
	if !ok {
		return skip(fmt.Sprintf("%s time not configured", r.slot))
	}
	if !c.matches(hm{hour: h, minute: m}) {
		return skip(fmt.Sprintf("local hour %d is not %s trigger hour %d", c.local.Hour(), r.slot, h))
	}
	return Decision{Fire: true, Reason: fmt.Sprintf("%s trigger hour", r.slot), Slot: r.slot}
}

type weeklyRule struct {
	target hm
}

func (r weeklyRule) evaluate(c clock, user model.UserPreference) Decision {
	if !user.WeightEnabled {
		return skip("weight reminders disabled")
	}
	if c.local.Weekday() != time.Sunday {
		return skip("not sunday")
	}
	if !c.matches(r.target) {
		return skip(fmt.Sprintf("local hour %d is not %d", c.local.Hour(), r.target.hour))
	}
	return fire("weekly hour")
}

type monthlyRule struct {
	target hm
}

func (r monthlyRule) evaluate(c clock, _ model.UserPreference) Decision {
	if c.local.Day() != 1 {
		return skip("not first day of month")
	}
	if !c.matches(r.target) {
		return skip(fmt.Sprintf("local hour %d is not %d", c.local.Hour(), r.target.hour))
	}
	return fire("monthly hour")
}

type onceRule struct {
	target hm
	fired  bool
}

func (r onceRule) evaluate(c clock, _ model.UserPreference) Decision {
	if r.fired {
		return skip("already fired once")
	}
	if !c.matches(r.target) {
		return skip(fmt.Sprintf("local hour %d is not %d", c.local.Hour(), r.target.hour))
	}
	return fire("one-time hour")
}

type dailyRule struct {
	target hm
}

func (r dailyRule) evaluate(c clock, _ model.UserPreference) Decision {
	if !c.matches(r.target) {
		return skip(fmt.Sprintf("local hour %d is not %d", c.local.Hour(), r.target.hour))
	}
	return fire("daily hour")
}

func fire(reason string) Decision { return Decision{Fire: true, Reason: reason} }
func skip(reason string) Decision { return Decision{Reason: reason} }
