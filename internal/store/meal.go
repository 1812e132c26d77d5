package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
)

// MealStore persists per-day, per-slot meal completion and notification state.
type MealStore struct {
	db *database.DB
}

func NewMealStore(db *database.DB) *MealStore {
	return &MealStore{db: db}
}

// Ensure creates the day's slots if absent and returns the record.
func (s *MealStore) Ensure(ctx context.Context, userID int64, date string) (*model.MealDayRecord, error) {
	for _, slot := range model.MealSlots {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO meal_slots (user_id, date, slot, completed) VALUES (?, ?, ?, ?)
			 ON CONFLICT (user_id, date, slot) DO NOTHING`),
			userID, date, string(slot), false); err != nil {
			return nil, fmt.Errorf("ensure meal day: %w", err)
		}
	}
	return s.Get(ctx, userID, date)
}

// Get returns the record for a day, or nil when none was created yet.
func (s *MealStore) Get(ctx context.Context, userID int64, date string) (*model.MealDayRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT slot, completed, notified_at FROM meal_slots WHERE user_id = ? AND date = ?`), userID, date)
	if err != nil {
		return nil, fmt.Errorf("get meal day: %w", err)
	}
	defer rows.Close()

	var rec *model.MealDayRecord
	for rows.Next() {
		var slot string
		var st model.SlotState
		var notified sql.NullInt64
		if err := rows.Scan(&slot, &st.Completed, &notified); err != nil {
			return nil, fmt.Errorf("scan meal slot: %w", err)
		}
		st.NotifiedAt = timePtr(notified)
		if rec == nil {
			rec = &model.MealDayRecord{UserID: userID, Date: date, Slots: make(map[model.MealSlot]model.SlotState)}
		}
		rec.Slots[model.MealSlot(slot)] = st
	}
	return rec, rows.Err()
}

// SetCompleted marks a slot completed or not, creating the day if needed.
func (s *MealStore) SetCompleted(ctx context.Context, userID int64, date string, slot model.MealSlot, completed bool) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO meal_slots (user_id, date, slot, completed) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, date, slot) DO UPDATE SET completed = excluded.completed`),
		userID, date, string(slot), completed)
	if err != nil {
		return fmt.Errorf("set meal completed: %w", err)
	}
	return nil
}

// SetNotified records when a reminder for the slot was delivered.
func (s *MealStore) SetNotified(ctx context.Context, userID int64, date string, slot model.MealSlot, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO meal_slots (user_id, date, slot, completed, notified_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, date, slot) DO UPDATE SET notified_at = excluded.notified_at`),
		userID, date, string(slot), false, toMillis(at))
	if err != nil {
		return fmt.Errorf("set meal notified: %w", err)
	}
	return nil
}

// CleanupBefore deletes days strictly before date (YYYY-MM-DD compares lexically).
func (s *MealStore) CleanupBefore(ctx context.Context, date string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM meal_slots WHERE date < ?`), date)
	if err != nil {
		return 0, fmt.Errorf("cleanup meal slots: %w", err)
	}
	return result.RowsAffected()
}
