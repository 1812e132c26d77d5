package wake

import (
	"context"
	"log/slog"

	"github.com/dukerupert/mealminder/internal/model"
)

// Action identifiers attached to local notifications.
type Action string

const (
	ActionMarkCompleted Action = "mark-completed"
	ActionViewMeals     Action = "view-meals"
)

// Notification is a local notification shown by the device.
type Notification struct {
	Title   string
	Body    string
	Tag     string
	Slot    model.MealSlot
	Actions []Action
}

// Notifier shows local notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger. It stands in for a desktop
// notification daemon.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	actions := make([]string, len(n.Actions))
	for i, a := range n.Actions {
		actions[i] = string(a)
	}
	logger.InfoContext(ctx, "local notification",
		"title", n.Title,
		"body", n.Body,
		"tag", n.Tag,
		"actions", actions,
	)
	return nil
}
