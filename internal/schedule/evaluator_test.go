package schedule

import (
	"testing"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
)

func policy(notifType string, pattern model.RepeatPattern, scheduleTime string) model.NotificationPolicy {
	return model.NotificationPolicy{
		Type:          notifType,
		ScheduleTime:  scheduleTime,
		RepeatPattern: pattern,
		IsActive:      true,
		IsEnabled:     true,
	}
}

func user(tz string) model.UserPreference {
	return model.UserPreference{
		UserID:               1,
		DisplayName:          "Sam",
		Timezone:             tz,
		BreakfastTime:        "08:00",
		LunchTime:            "13:00",
		DinnerTime:           "19:00",
		NotificationsEnabled: true,
		MealEnabled:          true,
		WaterEnabled:         true,
		WeightEnabled:        true,
	}
}

// utcAt is a UTC instant; tests use UTC users unless they exercise time zones.
func utcAt(day, hour, minute int) time.Time {
	// March 2026: the 1st and 8th are Sundays.
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestEvaluateIsPure(t *testing.T) {
	e := Evaluator{}
	p := policy(model.TypeGoodMorning, model.RepeatDaily, "")
	u := user("Europe/Berlin")
	now := utcAt(3, 6, 15)

	first := e.Evaluate(p, u, now)
	second := e.Evaluate(p, u, now)
	if first != second {
		t.Errorf("evaluations differ: %+v vs %+v", first, second)
	}
	if !first.Fire {
		t.Errorf("expected 07:15 Berlin to fire good morning, got %+v", first)
	}
}

func TestGoodMorning(t *testing.T) {
	e := Evaluator{}
	p := policy(model.TypeGoodMorning, model.RepeatDaily, "")
	u := user("UTC")

	for hour := 0; hour < 24; hour++ {
		got := e.Evaluate(p, u, utcAt(3, hour, 0)).Fire
		if got != (hour == 7) {
			t.Errorf("hour %d: fire = %v", hour, got)
		}
	}
}

func TestGoodNightHour(t *testing.T) {
	tests := []struct {
		dinner string
		want   int
	}{
		{"21:00", 22},
		{"23:30", 23},
		{"", 20},
		{"17:00", 20},
		{"19:45", 20},
		{"garbage", 20},
	}
	for _, tt := range tests {
		u := user("UTC")
		u.DinnerTime = tt.dinner
		if got := GoodNightHour(u); got != tt.want {
			t.Errorf("dinner %q: target = %d, want %d", tt.dinner, got, tt.want)
		}
	}
}

func TestGoodNightFiresOnlyAtTarget(t *testing.T) {
	e := Evaluator{}
	p := policy(model.TypeGoodNight, model.RepeatDaily, "")
	u := user("UTC")
	u.DinnerTime = "21:00"

	if !e.Evaluate(p, u, utcAt(3, 22, 0)).Fire {
		t.Error("expected fire at 22")
	}
	if e.Evaluate(p, u, utcAt(3, 20, 0)).Fire {
		t.Error("expected no fire at 20 when dinner is 21:00")
	}
}

func TestWaterReminder(t *testing.T) {
	e := Evaluator{}
	p := policy(model.TypeWaterReminder, model.RepeatHourly, "")
	u := user("UTC")

	for hour := 0; hour < 24; hour++ {
		want := hour >= 8 && hour <= 22 && hour%2 == 0
		if got := e.Evaluate(p, u, utcAt(3, hour, 0)).Fire; got != want {
			t.Errorf("hour %d: fire = %v, want %v", hour, got, want)
		}
	}

	u.WaterEnabled = false
	if e.Evaluate(p, u, utcAt(3, 10, 0)).Fire {
		t.Error("water channel disabled should not fire")
	}
}

func TestMealReminderTriggerHour(t *testing.T) {
	e := Evaluator{}
	p := policy(model.MealType(model.SlotBreakfast), model.RepeatDaily, "")
	u := user("UTC")

	for hour := 0; hour < 24; hour++ {
		d := e.Evaluate(p, u, utcAt(3, hour, 0))
		if d.Fire != (hour == 9) {
			t.Errorf("hour %d: fire = %v", hour, d.Fire)
		}
		if d.Fire && d.Slot != model.SlotBreakfast {
			t.Errorf("slot = %q, want breakfast", d.Slot)
		}
	}
}

func TestMealReminderUnconfiguredOrDisabled(t *testing.T) {
	e := Evaluator{}
	u := user("UTC")

	snack := policy(model.MealType(model.SlotSnack1), model.RepeatDaily, "")
	if e.Evaluate(snack, u, utcAt(3, 11, 0)).Fire {
		t.Error("unconfigured slot should not fire")
	}

	late := u
	late.DinnerTime = "23:15"
	dinner := policy(model.MealType(model.SlotDinner), model.RepeatDaily, "")
	for hour := 0; hour < 24; hour++ {
		if e.Evaluate(dinner, late, utcAt(3, hour, 0)).Fire {
			t.Errorf("dinner at 23:15 should never trigger, fired at %d", hour)
		}
	}

	u.MealEnabled = false
	lunch := policy(model.MealType(model.SlotLunch), model.RepeatDaily, "")
	if e.Evaluate(lunch, u, utcAt(3, 14, 0)).Fire {
		t.Error("meal channel disabled should not fire")
	}
}

func TestWeeklyReminder(t *testing.T) {
	e := Evaluator{}
	u := user("UTC")

	for _, notifType := range []string{model.TypeWeeklyWeight, model.TypeWeeklyMeasurement} {
		p := policy(notifType, model.RepeatWeekly, "")
		if !e.Evaluate(p, u, utcAt(8, 9, 0)).Fire {
			t.Errorf("%s: expected fire sunday 09:00", notifType)
		}
		if e.Evaluate(p, u, utcAt(9, 9, 0)).Fire {
			t.Errorf("%s: expected no fire on monday", notifType)
		}
		if e.Evaluate(p, u, utcAt(8, 10, 0)).Fire {
			t.Errorf("%s: expected no fire sunday 10:00", notifType)
		}
	}

	custom := policy(model.TypeWeeklyWeight, model.RepeatWeekly, "18:00")
	if !e.Evaluate(custom, u, utcAt(8, 18, 0)).Fire {
		t.Error("configured target hour 18 should fire")
	}
}

func TestDailyDefault(t *testing.T) {
	e := Evaluator{}
	u := user("UTC")

	p := policy("daily_tip", model.RepeatDaily, "")
	if !e.Evaluate(p, u, utcAt(3, 9, 0)).Fire {
		t.Error("default target hour 9 should fire")
	}

	p.ScheduleTime = "15:30"
	if !e.Evaluate(p, u, utcAt(3, 15, 0)).Fire {
		t.Error("configured hour 15 should fire")
	}
	if e.Evaluate(p, u, utcAt(3, 9, 0)).Fire {
		t.Error("hour 9 should not fire when 15:30 is configured")
	}
}

func TestMonthlyAndOnce(t *testing.T) {
	e := Evaluator{}
	u := user("UTC")

	monthly := policy("monthly_review", model.RepeatMonthly, "10:00")
	if !e.Evaluate(monthly, u, utcAt(1, 10, 0)).Fire {
		t.Error("monthly should fire on the 1st")
	}
	if e.Evaluate(monthly, u, utcAt(2, 10, 0)).Fire {
		t.Error("monthly should not fire on the 2nd")
	}

	once := policy("welcome", model.RepeatOnce, "10:00")
	if !e.Evaluate(once, u, utcAt(2, 10, 0)).Fire {
		t.Error("once should fire before it has fired")
	}
	fired := utcAt(2, 10, 0)
	once.LastFiredAt = &fired
	if e.Evaluate(once, u, utcAt(3, 10, 0)).Fire {
		t.Error("once should not fire again")
	}
}

func TestDisabledPolicyOrUser(t *testing.T) {
	e := Evaluator{}
	p := policy(model.TypeGoodMorning, model.RepeatDaily, "")
	u := user("UTC")
	now := utcAt(3, 7, 0)

	off := p
	off.IsEnabled = false
	if e.Evaluate(off, u, now).Fire {
		t.Error("disabled policy fired")
	}

	muted := u
	muted.NotificationsEnabled = false
	if e.Evaluate(p, muted, now).Fire {
		t.Error("muted user fired")
	}
}

func TestDSTAmericaNewYork(t *testing.T) {
	e := Evaluator{}
	p := policy(model.TypeGoodMorning, model.RepeatDaily, "")
	u := user("America/New_York")

	// 11:00 UTC is 07:00 EDT (UTC-4) but 06:00 EST (UTC-5).
	summer := time.Date(2026, 7, 15, 11, 0, 0, 0, time.UTC)
	winter := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	if !e.Evaluate(p, u, summer).Fire {
		t.Error("11:00 UTC in July is 07:00 EDT and should fire")
	}
	if e.Evaluate(p, u, winter).Fire {
		t.Error("11:00 UTC in January is 06:00 EST and should not fire")
	}
	if !e.Evaluate(p, u, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)).Fire {
		t.Error("12:00 UTC in January is 07:00 EST and should fire")
	}

	// DST starts 2026-03-08 at 02:00 EST. The day before, 07:00 local is 12:00 UTC;
	// on the day, 07:00 local is 11:00 UTC.
	if !e.Evaluate(p, u, time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)).Fire {
		t.Error("2026-03-07 12:00 UTC should be 07:00 EST")
	}
	if !e.Evaluate(p, u, time.Date(2026, 3, 8, 11, 0, 0, 0, time.UTC)).Fire {
		t.Error("2026-03-08 11:00 UTC should be 07:00 EDT")
	}
	if e.Evaluate(p, u, time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)).Fire {
		t.Error("2026-03-08 12:00 UTC is 08:00 EDT and should not fire")
	}
}

func TestMatchWindow(t *testing.T) {
	e := Evaluator{Window: 30 * time.Minute}
	p := policy(model.MealType(model.SlotLunch), model.RepeatDaily, "")
	u := user("UTC")
	u.LunchTime = "12:30" // trigger 13:30

	tests := []struct {
		hour, minute int
		want         bool
	}{
		{13, 0, true},
		{13, 30, true},
		{14, 0, true},
		{12, 59, false},
		{14, 1, false},
	}
	for _, tt := range tests {
		if got := e.Evaluate(p, u, utcAt(3, tt.hour, tt.minute)).Fire; got != tt.want {
			t.Errorf("%02d:%02d fire = %v, want %v", tt.hour, tt.minute, got, tt.want)
		}
	}

	// Exact-hour mode ignores minutes of the target.
	exact := Evaluator{}
	if !exact.Evaluate(p, u, utcAt(3, 13, 55)).Fire {
		t.Error("exact mode should match anywhere in hour 13")
	}
}

func TestDayBoundsAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	start, end := DayBounds(time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC), loc)
	if got := end.Sub(start); got != 23*time.Hour {
		t.Errorf("spring-forward day length = %s, want 23h", got)
	}
	if want := time.Date(2026, 3, 8, 5, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %s, want %s", start.UTC(), want)
	}

	start, end = DayBounds(time.Date(2026, 11, 1, 15, 0, 0, 0, time.UTC), loc)
	if got := end.Sub(start); got != 25*time.Hour {
		t.Errorf("fall-back day length = %s, want 25h", got)
	}
}

func TestLocalDay(t *testing.T) {
	u := user("Asia/Tokyo")
	// 20:00 UTC on March 3 is 05:00 March 4 in Tokyo.
	if got := LocalDay(u, utcAt(3, 20, 0)); got != "2026-03-04" {
		t.Errorf("local day = %q, want 2026-03-04", got)
	}
}
