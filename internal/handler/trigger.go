package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mealminder/internal/orchestrator"
)

// Runner executes one reminder tick.
type Runner interface {
	Run(ctx context.Context, now time.Time) (*orchestrator.Summary, error)
}

type TriggerHandler struct {
	runner Runner
	now    func() time.Time
	logger *slog.Logger
}

func NewTriggerHandler(runner Runner, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{runner: runner, now: time.Now, logger: logger}
}

// Notifications handles POST /api/cron/notifications
func (h *TriggerHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	sum, err := h.runner.Run(r.Context(), h.now())
	if err != nil {
		h.logger.Error("reminder run failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrConfigFetch) || errors.Is(err, orchestrator.ErrUserFetch) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"success":   false,
			"timestamp": h.now().UTC(),
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
