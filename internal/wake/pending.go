package wake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/mealminder/internal/model"
)

// pendingKey holds completions the application has not acknowledged.
const pendingKey = "pending:completions"

type pendingCompletion struct {
	Date string         `json:"date"`
	Slot model.MealSlot `json:"slot"`
}

func queued(list []pendingCompletion, date string, slot model.MealSlot) bool {
	for _, p := range list {
		if p.Date == date && p.Slot == slot {
			return true
		}
	}
	return false
}

func (s *Scheduler) loadPending(ctx context.Context) ([]pendingCompletion, error) {
	raw, ok, err := s.cache.Get(ctx, pendingKey)
	if err != nil {
		return nil, fmt.Errorf("read pending completions: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var list []pendingCompletion
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode pending completions: %w", err)
	}
	return list, nil
}

func (s *Scheduler) savePending(ctx context.Context, list []pendingCompletion) error {
	if list == nil {
		list = []pendingCompletion{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode pending completions: %w", err)
	}
	if err := s.cache.Set(ctx, pendingKey, string(data)); err != nil {
		return fmt.Errorf("save pending completions: %w", err)
	}
	s.hasPending.Store(len(list) > 0)
	return nil
}

func (s *Scheduler) queueCompletion(ctx context.Context, date string, slot model.MealSlot) error {
	list, err := s.loadPending(ctx)
	if err != nil {
		return err
	}
	if queued(list, date, slot) {
		return nil
	}
	return s.savePending(ctx, append(list, pendingCompletion{Date: date, Slot: slot}))
}

// flushPending sends queued completions for today to the application.
// Entries from other days are dropped: the application records completions
// against its current local date only. It returns today's entries, sent or
// not, so the caller can treat them as completed.
func (s *Scheduler) flushPending(ctx context.Context, today string) ([]pendingCompletion, error) {
	list, err := s.loadPending(ctx)
	if err != nil || len(list) == 0 {
		return nil, err
	}

	remote := s.Remote()
	var todays, keep []pendingCompletion
	for _, p := range list {
		if p.Date != today {
			s.logger.Info("dropping stale pending completion", "date", p.Date, "slot", p.Slot)
			continue
		}
		todays = append(todays, p)
		if remote == nil {
			keep = append(keep, p)
			continue
		}
		if err := remote.MarkMealCompleted(ctx, string(p.Slot)); err != nil {
			s.logger.Warn("replay meal completion", "slot", p.Slot, "error", err)
			keep = append(keep, p)
			remote = nil
			continue
		}
		s.logger.Info("replayed meal completion", "date", p.Date, "slot", p.Slot)
	}

	if len(keep) != len(list) {
		if err := s.savePending(ctx, keep); err != nil {
			return todays, err
		}
	} else {
		s.hasPending.Store(len(keep) > 0)
	}
	return todays, nil
}
