package wake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/mealminder/internal/bus"
	"github.com/dukerupert/mealminder/internal/model"
)

// ErrCacheMiss means neither the application nor the local cache had a value.
var ErrCacheMiss = errors.New("wake: cache miss")

// Remote is the application side of the bus.
type Remote interface {
	GetLocalStorage(ctx context.Context, key string) (string, bool, error)
	MarkNotificationSent(ctx context.Context, notifType, date string, at time.Time) error
	MarkMealCompleted(ctx context.Context, slot string) error
}

// Cache is the agent's own key/value store.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// CacheBackend is a multi-user key/value store such as store.CacheStore.
type CacheBackend interface {
	Get(ctx context.Context, userID int64, key string) (string, bool, error)
	Set(ctx context.Context, userID int64, key, value string) error
}

// UserCache scopes a CacheBackend to one user.
type UserCache struct {
	Backend CacheBackend
	UserID  int64
}

func (c UserCache) Get(ctx context.Context, key string) (string, bool, error) {
	return c.Backend.Get(ctx, c.UserID, key)
}

func (c UserCache) Set(ctx context.Context, key, value string) error {
	return c.Backend.Set(ctx, c.UserID, key, value)
}

// fetch reads key from the application and refreshes the local cache, or
// falls back to the local cache when the application is unreachable.
func (s *Scheduler) fetch(ctx context.Context, key string) (string, error) {
	if remote := s.Remote(); remote != nil {
		v, ok, err := remote.GetLocalStorage(ctx, key)
		switch {
		case err != nil:
			s.logger.Debug("remote read failed, using local cache", "key", key, "error", err)
		case ok:
			if err := s.cache.Set(ctx, key, v); err != nil {
				s.logger.Warn("refresh local cache", "key", key, "error", err)
			}
			return v, nil
		}
	}

	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read local cache %q: %w", key, err)
	}
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (s *Scheduler) loadPreferences(ctx context.Context) (model.UserPreference, error) {
	var prefs model.UserPreference
	raw, err := s.fetch(ctx, bus.KeyPreferences)
	if err != nil {
		return prefs, err
	}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return prefs, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}

// loadMeals returns the record for date, merging the application's copy
// with the local one. A day nobody has touched yet reads as a fresh record.
// Slots in completed are treated as done even if the application has not
// caught up yet.
func (s *Scheduler) loadMeals(ctx context.Context, date string, completed []pendingCompletion) (*model.MealDayRecord, error) {
	key := bus.MealsKey(date)
	local, err := s.localMeals(ctx, key, date)
	if err != nil {
		return nil, err
	}

	remote := s.Remote()
	if remote == nil {
		return local, nil
	}
	raw, ok, err := remote.GetLocalStorage(ctx, key)
	if err != nil {
		s.logger.Debug("remote read failed, using local cache", "key", key, "error", err)
		return local, nil
	}
	if !ok {
		return local, nil
	}
	rec, err := decodeMeals(raw)
	if err != nil {
		return nil, err
	}
	mergeMeals(rec, local, completed)
	if err := s.saveMeals(ctx, rec); err != nil {
		s.logger.Warn("refresh local cache", "key", key, "error", err)
	}
	return rec, nil
}

func (s *Scheduler) localMeals(ctx context.Context, key, date string) (*model.MealDayRecord, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read local cache %q: %w", key, err)
	}
	if !ok {
		return model.NewMealDayRecord(s.userID, date), nil
	}
	return decodeMeals(raw)
}

func decodeMeals(raw string) (*model.MealDayRecord, error) {
	var rec model.MealDayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode meals: %w", err)
	}
	if rec.Slots == nil {
		rec.Slots = make(map[model.MealSlot]model.SlotState)
	}
	return &rec, nil
}

// mergeMeals folds local state into the application's record: the latest
// notification time wins, and queued completions stay completed.
func mergeMeals(dst, local *model.MealDayRecord, completed []pendingCompletion) {
	for _, slot := range model.MealSlots {
		st := dst.Slot(slot)
		l := local.Slot(slot)
		if l.NotifiedAt != nil && (st.NotifiedAt == nil || l.NotifiedAt.After(*st.NotifiedAt)) {
			at := *l.NotifiedAt
			st.NotifiedAt = &at
		}
		if queued(completed, dst.Date, slot) {
			st.Completed = true
		}
		dst.Slots[slot] = st
	}
}

func (s *Scheduler) saveMeals(ctx context.Context, rec *model.MealDayRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode meals: %w", err)
	}
	return s.cache.Set(ctx, bus.MealsKey(rec.Date), string(data))
}
