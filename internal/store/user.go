package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
)

const userColumns = `id, display_name, timezone, breakfast_time, snack1_time, lunch_time, snack2_time, dinner_time,
	notifications_enabled, meal_enabled, water_enabled, weight_enabled, last_active_at`

// UserStore reads user preferences. Profile writes belong to the application
// layer; Create and TouchActive exist for seeding and activity tracking.
type UserStore struct {
	db *database.DB
}

func NewUserStore(db *database.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u model.UserPreference) (*model.UserPreference, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO users (display_name, timezone, breakfast_time, snack1_time, lunch_time, snack2_time, dinner_time,
			notifications_enabled, meal_enabled, water_enabled, weight_enabled, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		u.DisplayName, u.Timezone, u.BreakfastTime, u.Snack1Time, u.LunchTime, u.Snack2Time, u.DinnerTime,
		u.NotificationsEnabled, u.MealEnabled, u.WaterEnabled, u.WeightEnabled, nullMillis(u.LastActiveAt),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *UserStore) Get(ctx context.Context, id int64) (*model.UserPreference, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListNotifiable returns users with notifications globally enabled.
func (s *UserStore) ListNotifiable(ctx context.Context) ([]model.UserPreference, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE notifications_enabled = ? ORDER BY id`), true)
	if err != nil {
		return nil, fmt.Errorf("list notifiable users: %w", err)
	}
	defer rows.Close()

	var users []model.UserPreference
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// TouchActive records that the user interacted with the application at t.
func (s *UserStore) TouchActive(ctx context.Context, id int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET last_active_at = ? WHERE id = ?`), toMillis(t), id)
	if err != nil {
		return fmt.Errorf("touch user activity: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.UserPreference, error) {
	var u model.UserPreference
	var lastActive sql.NullInt64
	err := row.Scan(&u.UserID, &u.DisplayName, &u.Timezone,
		&u.BreakfastTime, &u.Snack1Time, &u.LunchTime, &u.Snack2Time, &u.DinnerTime,
		&u.NotificationsEnabled, &u.MealEnabled, &u.WaterEnabled, &u.WeightEnabled, &lastActive)
	if err != nil {
		return nil, err
	}
	u.LastActiveAt = timePtr(lastActive)
	return &u, nil
}
