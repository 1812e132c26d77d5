package model

import "time"

type MealSlot string

const (
	SlotBreakfast MealSlot = "breakfast"
	SlotSnack1    MealSlot = "snack1"
	SlotLunch     MealSlot = "lunch"
	SlotSnack2    MealSlot = "snack2"
	SlotDinner    MealSlot = "dinner"
)

// MealSlots in the order they occur during a day.
var MealSlots = []MealSlot{SlotBreakfast, SlotSnack1, SlotLunch, SlotSnack2, SlotDinner}

var mealNames = map[MealSlot]string{
	SlotBreakfast: "breakfast",
	SlotSnack1:    "morning snack",
	SlotLunch:     "lunch",
	SlotSnack2:    "afternoon snack",
	SlotDinner:    "dinner",
}

func (s MealSlot) Valid() bool {
	_, ok := mealNames[s]
	return ok
}

// DisplayName is the human label used in notification text.
func (s MealSlot) DisplayName() string {
	return mealNames[s]
}

// SlotState is the completion and notification state of one meal slot.
type SlotState struct {
	Completed  bool       `json:"completed"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// MealDayRecord holds a user's meal state for one local date (YYYY-MM-DD).
type MealDayRecord struct {
	UserID int64                  `json:"user_id"`
	Date   string                 `json:"date"`
	Slots  map[MealSlot]SlotState `json:"slots"`
}

// NewMealDayRecord returns a record with every slot incomplete and not notified.
func NewMealDayRecord(userID int64, date string) *MealDayRecord {
	rec := &MealDayRecord{UserID: userID, Date: date, Slots: make(map[MealSlot]SlotState, len(MealSlots))}
	for _, s := range MealSlots {
		rec.Slots[s] = SlotState{}
	}
	return rec
}

// Slot returns the state of s; missing slots read as zero state.
func (r *MealDayRecord) Slot(s MealSlot) SlotState {
	if r == nil {
		return SlotState{}
	}
	return r.Slots[s]
}
