package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mealminder/internal/auth"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/push"
)

// MealTracker is the meal completion reconciler.
type MealTracker interface {
	MarkCompleted(ctx context.Context, user model.UserPreference, slot model.MealSlot, now time.Time, completed bool) error
	Today(ctx context.Context, user model.UserPreference, now time.Time) (*model.MealDayRecord, error)
}

// AgentNotifier pokes a user's connected wake agents.
type AgentNotifier interface {
	CheckMealsNow(ctx context.Context, userID int64) int
}

type ActivityTracker interface {
	TouchActive(ctx context.Context, id int64, t time.Time) error
}

type Deliverer interface {
	Deliver(ctx context.Context, req push.Request) (*push.Outcome, error)
}

type MealHandler struct {
	meals      MealTracker
	agents     AgentNotifier
	activity   ActivityTracker
	dispatcher Deliverer
	now        func() time.Time
	logger     *slog.Logger
}

func NewMealHandler(meals MealTracker, agents AgentNotifier, activity ActivityTracker, dispatcher Deliverer, logger *slog.Logger) *MealHandler {
	return &MealHandler{
		meals:      meals,
		agents:     agents,
		activity:   activity,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger,
	}
}

type completeRequest struct {
	Completed *bool `json:"completed"`
}

// Complete handles POST /api/users/{id}/meals/{slot}/complete
func (h *MealHandler) Complete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	slot := model.MealSlot(r.PathValue("slot"))
	if !slot.Valid() {
		writeError(w, http.StatusBadRequest, "invalid meal slot")
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	completed := true
	if req.Completed != nil {
		completed = *req.Completed
	}

	now := h.now()
	if err := h.meals.MarkCompleted(r.Context(), user, slot, now, completed); err != nil {
		h.logger.Error("mark meal completed", "user_id", user.UserID, "slot", slot, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update meal")
		return
	}
	if h.activity != nil {
		if err := h.activity.TouchActive(r.Context(), user.UserID, now); err != nil {
			h.logger.Warn("touch user activity", "user_id", user.UserID, "error", err)
		}
	}

	notified := 0
	if h.agents != nil {
		notified = h.agents.CheckMealsNow(r.Context(), user.UserID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slot":            slot,
		"completed":       completed,
		"agents_notified": notified,
	})
}

// Today handles GET /api/users/{id}/meals/today
func (h *MealHandler) Today(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	rec, err := h.meals.Today(r.Context(), user, h.now())
	if err != nil {
		h.logger.Error("load meal day", "user_id", user.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load meals")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TestNotification handles POST /api/users/{id}/test-notification
func (h *MealHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.FromContext(r.Context())

	out, err := h.dispatcher.Deliver(r.Context(), push.Request{
		User:      user,
		Type:      model.TypeTestNotification,
		Title:     "Test notification",
		Body:      "Hi {name}, push notifications are working!",
		Now:       h.now(),
		Untracked: true,
	})
	switch {
	case errors.Is(err, push.ErrNoEndpoints):
		writeError(w, http.StatusNotFound, "no registered devices")
		return
	case err != nil:
		h.logger.Error("test notification", "user_id", user.UserID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"sent":   out.SuccessCount,
		"failed": out.FailureCount,
	})
}
