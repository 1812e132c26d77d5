// Package dedup guarantees at most one notification per user, type and local
// calendar day.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/schedule"
)

// ReasonAlreadySent is the suppression reason when the day is taken.
const ReasonAlreadySent = "already sent today"

const dayLayout = "2006-01-02"

// LogStore is the slice of the notification log the guard needs.
// InsertIfAbsent must be atomic (unique on user, type, local day).
type LogStore interface {
	ExistsBetween(ctx context.Context, userID int64, notifType string, from, to time.Time) (bool, error)
	InsertIfAbsent(ctx context.Context, entry model.NotificationLog) (bool, error)
	Upsert(ctx context.Context, entry model.NotificationLog) error
	Delete(ctx context.Context, userID int64, notifType, localDay string) error
}

type Guard struct {
	logs LogStore
}

func NewGuard(logs LogStore) *Guard {
	return &Guard{logs: logs}
}

// Claim is a held slot for one user, type and local day.
type Claim struct {
	UserID   int64
	Type     string
	LocalDay string
	At       time.Time
}

// AlreadySent reports whether a row exists inside the user's local day
// [00:00, 24:00) containing now.
func (g *Guard) AlreadySent(ctx context.Context, userID int64, notifType string, now time.Time, loc *time.Location) (bool, error) {
	start, end := schedule.DayBounds(now, loc)
	sent, err := g.logs.ExistsBetween(ctx, userID, notifType, start, end)
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return sent, nil
}

// Claim atomically takes the day's slot. It returns nil when another run
// already holds or used it.
func (g *Guard) Claim(ctx context.Context, userID int64, notifType string, now time.Time, loc *time.Location) (*Claim, error) {
	c := &Claim{UserID: userID, Type: notifType, LocalDay: now.In(loc).Format(dayLayout), At: now}
	ok, err := g.logs.InsertIfAbsent(ctx, model.NotificationLog{
		UserID:   userID,
		Type:     notifType,
		LocalDay: c.LocalDay,
		SentAt:   now,
		Metadata: map[string]any{"status": "claimed"},
	})
	if err != nil {
		return nil, fmt.Errorf("dedup claim: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return c, nil
}

// Release gives a claim back so the next tick can retry the slot.
func (g *Guard) Release(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	if err := g.logs.Delete(ctx, c.UserID, c.Type, c.LocalDay); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

// RecordDelivery writes the final log row for a successful delivery,
// replacing the claim placeholder if one exists.
func (g *Guard) RecordDelivery(ctx context.Context, userID int64, notifType string, sentAt time.Time, loc *time.Location, meta map[string]any) error {
	err := g.logs.Upsert(ctx, model.NotificationLog{
		UserID:   userID,
		Type:     notifType,
		LocalDay: sentAt.In(loc).Format(dayLayout),
		SentAt:   sentAt,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("dedup record: %w", err)
	}
	return nil
}
