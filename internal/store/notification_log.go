package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
)

type NotificationLogStore struct {
	db *database.DB
}

func NewNotificationLogStore(db *database.DB) *NotificationLogStore {
	return &NotificationLogStore{db: db}
}

// ExistsBetween reports whether a row for user and type has sent_at in [from, to).
func (s *NotificationLogStore) ExistsBetween(ctx context.Context, userID int64, notifType string, from, to time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM notification_logs
		 WHERE user_id = ? AND type = ? AND sent_at >= ? AND sent_at < ?`),
		userID, notifType, toMillis(from), toMillis(to),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notification log: %w", err)
	}
	return count > 0, nil
}

// InsertIfAbsent writes a row unless one already exists for the same user,
// type and local day. It reports whether this call inserted the row.
func (s *NotificationLogStore) InsertIfAbsent(ctx context.Context, entry model.NotificationLog) (bool, error) {
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO notification_logs (user_id, type, local_day, sent_at, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, type, local_day) DO NOTHING`),
		entry.UserID, entry.Type, entry.LocalDay, toMillis(entry.SentAt), meta,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification log: rows affected: %w", err)
	}
	return n == 1, nil
}

// Upsert writes the row for the entry's day, replacing sent_at and metadata of
// an existing claim.
func (s *NotificationLogStore) Upsert(ctx context.Context, entry model.NotificationLog) error {
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO notification_logs (user_id, type, local_day, sent_at, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, type, local_day) DO UPDATE SET sent_at = excluded.sent_at, metadata = excluded.metadata`),
		entry.UserID, entry.Type, entry.LocalDay, toMillis(entry.SentAt), meta,
	)
	if err != nil {
		return fmt.Errorf("upsert notification log: %w", err)
	}
	return nil
}

// Delete removes the row for a user, type and local day.
func (s *NotificationLogStore) Delete(ctx context.Context, userID int64, notifType, localDay string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM notification_logs WHERE user_id = ? AND type = ? AND local_day = ?`),
		userID, notifType, localDay)
	if err != nil {
		return fmt.Errorf("delete notification log: %w", err)
	}
	return nil
}

// ListByUser returns a user's rows, newest first.
func (s *NotificationLogStore) ListByUser(ctx context.Context, userID int64, limit int) ([]model.NotificationLog, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, user_id, type, local_day, sent_at, metadata FROM notification_logs
		 WHERE user_id = ? ORDER BY sent_at DESC, id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notification logs: %w", err)
	}
	defer rows.Close()

	var logs []model.NotificationLog
	for rows.Next() {
		var l model.NotificationLog
		var sentAt int64
		var meta string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Type, &l.LocalDay, &sentAt, &meta); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		l.SentAt = fromMillis(sentAt)
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &l.Metadata); err != nil {
				return nil, fmt.Errorf("decode notification metadata: %w", err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CleanupBefore deletes rows sent before t and returns how many were removed.
func (s *NotificationLogStore) CleanupBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM notification_logs WHERE sent_at < ?`), toMillis(t))
	if err != nil {
		return 0, fmt.Errorf("cleanup notification logs: %w", err)
	}
	return result.RowsAffected()
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode notification metadata: %w", err)
	}
	return string(data), nil
}

