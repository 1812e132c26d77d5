package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/database"
)

// CacheStore is a per-user key/value store. The server keeps values the wake
// agent asks it to cache; the agent keeps its own local copy in the same table.
type CacheStore struct {
	db *database.DB
}

func NewCacheStore(db *database.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get returns the value for key and whether it exists.
func (s *CacheStore) Get(ctx context.Context, userID int64, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT value FROM local_cache WHERE user_id = ? AND key = ?`), userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cache %q: %w", key, err)
	}
	return value, true, nil
}

func (s *CacheStore) Set(ctx context.Context, userID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO local_cache (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		userID, key, value, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set cache %q: %w", key, err)
	}
	return nil
}

// All returns every key for a user.
func (s *CacheStore) All(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT key, value FROM local_cache WHERE user_id = ? ORDER BY key`), userID)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan cache: %w", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// CleanupBefore deletes entries not written since t.
func (s *CacheStore) CleanupBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM local_cache WHERE updated_at < ?`), toMillis(t))
	if err != nil {
		return 0, fmt.Errorf("cleanup cache: %w", err)
	}
	return result.RowsAffected()
}
