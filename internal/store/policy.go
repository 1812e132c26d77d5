package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
)

type PolicyStore struct {
	db *database.DB
}

func NewPolicyStore(db *database.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// ListActive returns policies that are both active and enabled.
func (s *PolicyStore) ListActive(ctx context.Context) ([]model.NotificationPolicy, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, type, title_template, body_template, schedule_time, repeat_pattern, is_active, is_enabled, last_fired_at
		 FROM notification_policies WHERE is_active = ? AND is_enabled = ? ORDER BY id`), true, true)
	if err != nil {
		return nil, fmt.Errorf("list active policies: %w", err)
	}
	defer rows.Close()

	var policies []model.NotificationPolicy
	for rows.Next() {
		var p model.NotificationPolicy
		var pattern string
		var lastFired sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Type, &p.TitleTemplate, &p.BodyTemplate, &p.ScheduleTime, &pattern,
			&p.IsActive, &p.IsEnabled, &lastFired); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.RepeatPattern = model.RepeatPattern(pattern)
		p.LastFiredAt = timePtr(lastFired)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// SetEnabled toggles a policy by type.
func (s *PolicyStore) SetEnabled(ctx context.Context, notifType string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE notification_policies SET is_enabled = ? WHERE type = ?`), enabled, notifType)
	if err != nil {
		return fmt.Errorf("set policy enabled: %w", err)
	}
	return nil
}

// TouchFired records the last time a policy produced at least one send.
func (s *PolicyStore) TouchFired(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE notification_policies SET last_fired_at = ? WHERE id = ?`), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("touch policy fired: %w", err)
	}
	return nil
}
