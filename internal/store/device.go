package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
)

const deviceColumns = `id, user_id, kind, token, p256dh_key, auth_key, device_name, created_at, last_used_at`

type DeviceStore struct {
	db *database.DB
}

func NewDeviceStore(db *database.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Register stores an endpoint. Re-registering a known token moves it to the
// given user and refreshes its keys.
func (s *DeviceStore) Register(ctx context.Context, ep model.DeviceEndpoint) (*model.DeviceEndpoint, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO device_endpoints (user_id, kind, token, p256dh_key, auth_key, device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (token) DO UPDATE SET user_id = excluded.user_id, kind = excluded.kind,
			p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name
		 RETURNING id`),
		ep.UserID, ep.Kind, ep.Token, ep.P256dhKey, ep.AuthKey, ep.DeviceName, toMillis(now),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("register device endpoint: %w", err)
	}
	return s.GetByID(ctx, id, ep.UserID)
}

func (s *DeviceStore) GetByID(ctx context.Context, id, userID int64) (*model.DeviceEndpoint, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+deviceColumns+` FROM device_endpoints WHERE id = ? AND user_id = ?`), id, userID)
	ep, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device endpoint: %w", err)
	}
	return ep, nil
}

func (s *DeviceStore) ListByUser(ctx context.Context, userID int64) ([]model.DeviceEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT `+deviceColumns+` FROM device_endpoints WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list device endpoints by user: %w", err)
	}
	defer rows.Close()

	var eps []model.DeviceEndpoint
	for rows.Next() {
		ep, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device endpoint: %w", err)
		}
		eps = append(eps, *ep)
	}
	return eps, rows.Err()
}

func (s *DeviceStore) Delete(ctx context.Context, id, userID int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM device_endpoints WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return fmt.Errorf("delete device endpoint: %w", err)
	}
	return nil
}

// DeleteByTokens removes every endpoint whose token is listed.
func (s *DeviceStore) DeleteByTokens(ctx context.Context, tokens []string) (int64, error) {
	var total int64
	for _, token := range tokens {
		result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM device_endpoints WHERE token = ?`), token)
		if err != nil {
			return total, fmt.Errorf("delete device endpoint by token: %w", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

// TouchUsed sets last_used_at on the listed tokens.
func (s *DeviceStore) TouchUsed(ctx context.Context, tokens []string, at time.Time) error {
	for _, token := range tokens {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE device_endpoints SET last_used_at = ? WHERE token = ?`), toMillis(at), token); err != nil {
			return fmt.Errorf("touch device endpoint: %w", err)
		}
	}
	return nil
}

func scanDevice(row rowScanner) (*model.DeviceEndpoint, error) {
	var ep model.DeviceEndpoint
	var createdAt int64
	var lastUsed sql.NullInt64
	if err := row.Scan(&ep.ID, &ep.UserID, &ep.Kind, &ep.Token, &ep.P256dhKey, &ep.AuthKey, &ep.DeviceName,
		&createdAt, &lastUsed); err != nil {
		return nil, err
	}
	ep.CreatedAt = fromMillis(createdAt)
	ep.LastUsedAt = timePtr(lastUsed)
	return &ep, nil
}
