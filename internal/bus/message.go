// Package bus is a request/response channel between the wake agent and the
// application that owns the authoritative data.
package bus

import "time"

type MessageType string

const (
	GetLocalStorage      MessageType = "GET_LOCAL_STORAGE"
	CacheLocalStorage    MessageType = "CACHE_LOCAL_STORAGE"
	MarkNotificationSent MessageType = "MARK_NOTIFICATION_SENT"
	MarkMealCompleted    MessageType = "MARK_MEAL_COMPLETED"
	CheckMealsNow        MessageType = "CHECK_MEALS_NOW"
)

// Storage keys the application answers GET_LOCAL_STORAGE for.
const (
	KeyPreferences = "preferences"
	KeyMealsPrefix = "meals:"
)

// MealsKey is the storage key for the meal record of a local date.
func MealsKey(date string) string {
	return KeyMealsPrefix + date
}

// Envelope is one frame on the bus. Requests carry a Type; replies echo the
// request ID with Reply set.
type Envelope struct {
	ID    string      `json:"id"`
	Type  MessageType `json:"type,omitempty"`
	Reply bool        `json:"reply,omitempty"`

	Key              string `json:"key,omitempty"`
	Value            string `json:"value,omitempty"`
	Slot             string `json:"slot,omitempty"`
	NotificationType string `json:"notificationType,omitempty"`
	Date             string `json:"date,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`

	OK    bool   `json:"ok,omitempty"`
	Found bool   `json:"found,omitempty"`
	Error string `json:"error,omitempty"`
}

// Time returns Timestamp (unix milliseconds) as a time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}
