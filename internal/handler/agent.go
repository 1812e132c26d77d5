package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/mealminder/internal/auth"
	"github.com/dukerupert/mealminder/internal/bus"
	"github.com/dukerupert/mealminder/internal/model"
)

type UserReader interface {
	Get(ctx context.Context, id int64) (*model.UserPreference, error)
}

type MealReader interface {
	Get(ctx context.Context, userID int64, date string) (*model.MealDayRecord, error)
}

// MealRecorder is the reconciler as seen by agent reports.
type MealRecorder interface {
	MarkNotified(ctx context.Context, user model.UserPreference, slot model.MealSlot, at time.Time) error
	MarkCompleted(ctx context.Context, user model.UserPreference, slot model.MealSlot, now time.Time, completed bool) error
}

// SentLog is the dedup guard as seen by agent reports.
type SentLog interface {
	AlreadySent(ctx context.Context, userID int64, notifType string, now time.Time, loc *time.Location) (bool, error)
	RecordDelivery(ctx context.Context, userID int64, notifType string, sentAt time.Time, loc *time.Location, meta map[string]any) error
}

type KeyValueStore interface {
	Get(ctx context.Context, userID int64, key string) (string, bool, error)
	Set(ctx context.Context, userID int64, key, value string) error
}

// AgentServer accepts wake agent connections.
type AgentServer interface {
	ServeAgent(w http.ResponseWriter, r *http.Request, userID int64, handler bus.Handler, timeout time.Duration)
}

type AgentHandler struct {
	server  AgentServer
	users   UserReader
	meals   MealReader
	tracker MealRecorder
	sent    SentLog
	cache   KeyValueStore
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewAgentHandler(server AgentServer, users UserReader, meals MealReader, tracker MealRecorder, sent SentLog, cache KeyValueStore, timeout time.Duration, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		server:  server,
		users:   users,
		meals:   meals,
		tracker: tracker,
		sent:    sent,
		cache:   cache,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Connect handles GET /api/users/{id}/agent
func (h *AgentHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.server.ServeAgent(w, r, userID, h.busHandler(userID), h.timeout)
}

// busHandler answers requests from the agent of userID. The user is re-read
// per request so preference edits reach a long-lived connection.
func (h *AgentHandler) busHandler(userID int64) bus.Handler {
	return func(ctx context.Context, req bus.Envelope) (bus.Envelope, error) {
		user, err := h.users.Get(ctx, userID)
		if err != nil {
			return bus.Envelope{}, err
		}
		if user == nil {
			return bus.Envelope{}, fmt.Errorf("user %d not found", userID)
		}

		switch req.Type {
		case bus.GetLocalStorage:
			return h.read(ctx, *user, req.Key)
		case bus.CacheLocalStorage:
			if req.Key == "" {
				return bus.Envelope{}, fmt.Errorf("key is required")
			}
			return bus.Envelope{}, h.cache.Set(ctx, userID, req.Key, req.Value)
		case bus.MarkNotificationSent:
			return bus.Envelope{}, h.markSent(ctx, *user, req)
		case bus.MarkMealCompleted:
			slot := model.MealSlot(req.Slot)
			if !slot.Valid() {
				return bus.Envelope{}, fmt.Errorf("invalid meal slot %q", req.Slot)
			}
			return bus.Envelope{}, h.tracker.MarkCompleted(ctx, *user, slot, h.now(), true)
		default:
			return bus.Envelope{}, fmt.Errorf("unsupported message type %q", req.Type)
		}
	}
}

func (h *AgentHandler) read(ctx context.Context, user model.UserPreference, key string) (bus.Envelope, error) {
	switch {
	case key == bus.KeyPreferences:
		data, err := json.Marshal(user)
		if err != nil {
			return bus.Envelope{}, fmt.Errorf("encode preferences: %w", err)
		}
		return bus.Envelope{Value: string(data), Found: true}, nil

	case strings.HasPrefix(key, bus.KeyMealsPrefix):
		rec, err := h.meals.Get(ctx, user.UserID, strings.TrimPrefix(key, bus.KeyMealsPrefix))
		if err != nil {
			return bus.Envelope{}, err
		}
		if rec == nil {
			return bus.Envelope{}, nil
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return bus.Envelope{}, fmt.Errorf("encode meals: %w", err)
		}
		return bus.Envelope{Value: string(data), Found: true}, nil
	}

	v, ok, err := h.cache.Get(ctx, user.UserID, key)
	if err != nil {
		return bus.Envelope{}, err
	}
	return bus.Envelope{Value: v, Found: ok}, nil
}

// markSent records a notification the agent showed locally so the server
// run does not repeat it on the same local day.
func (h *AgentHandler) markSent(ctx context.Context, user model.UserPreference, req bus.Envelope) error {
	if req.NotificationType == "" {
		return fmt.Errorf("notification type is required")
	}
	at := h.now()
	if req.Timestamp > 0 {
		at = req.Time()
	}
	loc := user.Location()

	sent, err := h.sent.AlreadySent(ctx, user.UserID, req.NotificationType, at, loc)
	if err != nil {
		return err
	}
	if !sent {
		if err := h.sent.RecordDelivery(ctx, user.UserID, req.NotificationType, at, loc, map[string]any{"source": "agent"}); err != nil {
			return err
		}
	}

	if slot, ok := model.MealSlotFromType(req.NotificationType); ok {
		if err := h.tracker.MarkNotified(ctx, user, slot, at); err != nil {
			return err
		}
	}
	h.logger.Info("agent notification recorded", "user_id", user.UserID, "type", req.NotificationType, "duplicate", sent)
	return nil
}
