package model

import "time"

// NotificationLog is one delivered (or claimed) notification. At most one row
// exists per user, type and local calendar day.
type NotificationLog struct {
	ID       int64          `json:"id"`
	UserID   int64          `json:"user_id"`
	Type     string         `json:"type"`
	LocalDay string         `json:"local_day"`
	SentAt   time.Time      `json:"sent_at"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
