// Package reconcile decides meal reminders from live completion state.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/schedule"
)

const (
	DefaultCooldown     = 60 * time.Minute
	DefaultActiveWindow = 30 * time.Minute
)

// MealStore is the persistence the reconciler needs.
type MealStore interface {
	Ensure(ctx context.Context, userID int64, date string) (*model.MealDayRecord, error)
	SetCompleted(ctx context.Context, userID int64, date string, slot model.MealSlot, completed bool) error
	SetNotified(ctx context.Context, userID int64, date string, slot model.MealSlot, at time.Time) error
}

// Input is everything the meal predicate looks at.
type Input struct {
	State          model.SlotState
	TriggerHour    int
	TriggerMinute  int
	Now            time.Time // user's local wall clock
	Window         time.Duration
	Cooldown       time.Duration
	ActiveRecently bool
}

// ShouldNotify is the meal reminder predicate. It is shared by the server
// and the client wake scheduler.
func ShouldNotify(in Input) (bool, string) {
	if !schedule.Matches(in.Now, in.TriggerHour, in.TriggerMinute, in.Window) {
		return false, fmt.Sprintf("local hour %d is not trigger hour %d", in.Now.Hour(), in.TriggerHour)
	}
	if in.State.Completed {
		if in.ActiveRecently {
			return false, "meal completed while user active"
		}
		return false, "meal completed"
	}
	if n := in.State.NotifiedAt; n != nil {
		if n.In(in.Now.Location()).Format("2006-01-02") == in.Now.Format("2006-01-02") {
			return false, "already notified today"
		}
		if in.Cooldown > 0 && in.Now.Sub(*n) < in.Cooldown {
			return false, "cooldown"
		}
	}
	return true, "meal not completed"
}

// Reconciler evaluates meal reminders against the stored day record.
type Reconciler struct {
	meals        MealStore
	cooldown     time.Duration
	activeWindow time.Duration
	window       time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithCooldown(d time.Duration) Option     { return func(r *Reconciler) { r.cooldown = d } }
func WithActiveWindow(d time.Duration) Option { return func(r *Reconciler) { r.activeWindow = d } }
func WithMatchWindow(d time.Duration) Option  { return func(r *Reconciler) { r.window = d } }

func New(meals MealStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		meals:        meals,
		cooldown:     DefaultCooldown,
		activeWindow: DefaultActiveWindow,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Check applies ShouldNotify for slot. Today's record is created only once
// the slot is configured and the local time matches its trigger hour.
func (r *Reconciler) Check(ctx context.Context, user model.UserPreference, slot model.MealSlot, now time.Time) (bool, string, error) {
	hour, minute, ok := schedule.MealTriggerHour(user, slot)
	if !ok {
		return false, fmt.Sprintf("%s time not configured", slot), nil
	}
	local := schedule.LocalNow(user, now)
	if !schedule.Matches(local, hour, minute, r.window) {
		return false, fmt.Sprintf("local hour %d is not trigger hour %d", local.Hour(), hour), nil
	}

	rec, err := r.meals.Ensure(ctx, user.UserID, local.Format("2006-01-02"))
	if err != nil {
		return false, "", fmt.Errorf("load meal day: %w", err)
	}

	fire, reason := ShouldNotify(Input{
		State:          rec.Slot(slot),
		TriggerHour:    hour,
		TriggerMinute:  minute,
		Now:            local,
		Window:         r.window,
		Cooldown:       r.cooldown,
		ActiveRecently: user.ActiveSince(now.Add(-r.activeWindow)),
	})
	return fire, reason, nil
}

// MarkNotified records a delivered reminder for the slot on the user's local day.
func (r *Reconciler) MarkNotified(ctx context.Context, user model.UserPreference, slot model.MealSlot, at time.Time) error {
	date := schedule.LocalDay(user, at)
	if err := r.meals.SetNotified(ctx, user.UserID, date, slot, at); err != nil {
		return fmt.Errorf("mark meal notified: %w", err)
	}
	return nil
}

// MarkCompleted sets the slot's completion on the user's local day.
func (r *Reconciler) MarkCompleted(ctx context.Context, user model.UserPreference, slot model.MealSlot, now time.Time, completed bool) error {
	date := schedule.LocalDay(user, now)
	if err := r.meals.SetCompleted(ctx, user.UserID, date, slot, completed); err != nil {
		return fmt.Errorf("mark meal completed: %w", err)
	}
	return nil
}

// Today returns the user's record for the local day, creating it if needed.
func (r *Reconciler) Today(ctx context.Context, user model.UserPreference, now time.Time) (*model.MealDayRecord, error) {
	rec, err := r.meals.Ensure(ctx, user.UserID, schedule.LocalDay(user, now))
	if err != nil {
		return nil, fmt.Errorf("load meal day: %w", err)
	}
	return rec, nil
}
