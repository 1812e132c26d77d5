package model

import (
	"fmt"
	"strings"
	"time"
)

// UserPreference is the slice of a user's profile the reminder engine reads.
type UserPreference struct {
	UserID               int64      `json:"user_id"`
	DisplayName          string     `json:"display_name"`
	Timezone             string     `json:"timezone"`
	BreakfastTime        string     `json:"breakfast_time,omitempty"`
	Snack1Time           string     `json:"snack1_time,omitempty"`
	LunchTime            string     `json:"lunch_time,omitempty"`
	Snack2Time           string     `json:"snack2_time,omitempty"`
	DinnerTime           string     `json:"dinner_time,omitempty"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	MealEnabled          bool       `json:"meal_enabled"`
	WaterEnabled         bool       `json:"water_enabled"`
	WeightEnabled        bool       `json:"weight_enabled"`
	LastActiveAt         *time.Time `json:"last_active_at,omitempty"`
}

// MealTime returns the configured HH:MM for slot, or "" when unset.
func (u UserPreference) MealTime(slot MealSlot) string {
	switch slot {
	case SlotBreakfast:
		return u.BreakfastTime
	case SlotSnack1:
		return u.Snack1Time
	case SlotLunch:
		return u.LunchTime
	case SlotSnack2:
		return u.Snack2Time
	case SlotDinner:
		return u.DinnerTime
	}
	return ""
}

// MealTimes returns every configured slot time keyed by slot.
func (u UserPreference) MealTimes() map[MealSlot]string {
	times := make(map[MealSlot]string, len(MealSlots))
	for _, slot := range MealSlots {
		if t := u.MealTime(slot); t != "" {
			times[slot] = t
		}
	}
	return times
}

// Location resolves the user's IANA timezone, falling back to UTC.
func (u UserPreference) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstName is the first word of the display name.
func (u UserPreference) FirstName() string {
	fields := strings.Fields(u.DisplayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ActiveSince reports whether the user was seen at or after t.
func (u UserPreference) ActiveSince(t time.Time) bool {
	return u.LastActiveAt != nil && !u.LastActiveAt.Before(t)
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
