package model

import (
	"strings"
	"time"
)

// Notification type constants. Meal reminders are TypeMealPrefix + slot.
const (
	TypeGoodMorning       = "good_morning"
	TypeGoodNight         = "good_night"
	TypeWaterReminder     = "water_reminder"
	TypeWeeklyWeight      = "weekly_weight_reminder"
	TypeWeeklyMeasurement = "weekly_measurement_reminder"
	TypeMealPrefix        = "meal_reminder_"
	TypeTestNotification  = "test_notification"
)

// RepeatPattern is how often a policy may fire.
type RepeatPattern string

const (
	RepeatDaily   RepeatPattern = "daily"
	RepeatWeekly  RepeatPattern = "weekly"
	RepeatMonthly RepeatPattern = "monthly"
	RepeatHourly  RepeatPattern = "hourly"
	RepeatOnce    RepeatPattern = "once"
)

type NotificationPolicy struct {
	ID            int64         `json:"id"`
	Type          string        `json:"type"`
	TitleTemplate string        `json:"title_template"`
	BodyTemplate  string        `json:"body_template"`
	ScheduleTime  string        `json:"schedule_time,omitempty"`
	RepeatPattern RepeatPattern `json:"repeat_pattern"`
	IsActive      bool          `json:"is_active"`
	IsEnabled     bool          `json:"is_enabled"`
	LastFiredAt   *time.Time    `json:"last_fired_at,omitempty"`
}

// MealSlot returns the slot of a meal reminder type.
func (p NotificationPolicy) MealSlot() (MealSlot, bool) {
	return MealSlotFromType(p.Type)
}

// MealSlotFromType parses "meal_reminder_<slot>".
func MealSlotFromType(notifType string) (MealSlot, bool) {
	rest, ok := strings.CutPrefix(notifType, TypeMealPrefix)
	if !ok {
		return "", false
	}
	slot := MealSlot(rest)
	return slot, slot.Valid()
}

// MealType is the notification type for a meal slot.
func MealType(slot MealSlot) string {
	return TypeMealPrefix + string(slot)
}
