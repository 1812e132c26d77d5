package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/mealminder/internal/bus"
	"github.com/dukerupert/mealminder/internal/dedup"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/reconcile"
)

func setupAgentHandler(t *testing.T) (*testEnv, bus.Handler) {
	t.Helper()
	e := setupTestEnv(t)
	h := NewAgentHandler(nil, e.users, e.meals, reconcile.New(e.meals), dedup.NewGuard(e.logs), e.cache, time.Second, slog.Default())
	h.now = func() time.Time { return testNow }
	return e, h.busHandler(e.user.UserID)
}

func TestAgentReadPreferences(t *testing.T) {
	e, handle := setupAgentHandler(t)

	reply, err := handle(context.Background(), bus.Envelope{Type: bus.GetLocalStorage, Key: bus.KeyPreferences})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !reply.Found {
		t.Fatal("preferences not found")
	}
	var prefs model.UserPreference
	if err := json.Unmarshal([]byte(reply.Value), &prefs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if prefs.UserID != e.user.UserID || prefs.LunchTime != "13:00" {
		t.Errorf("prefs = %+v", prefs)
	}
}

func TestAgentReadMeals(t *testing.T) {
	e, handle := setupAgentHandler(t)
	ctx := context.Background()

	reply, err := handle(ctx, bus.Envelope{Type: bus.GetLocalStorage, Key: bus.MealsKey("2026-07-06")})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Found {
		t.Errorf("untouched day should not be found, got %q", reply.Value)
	}

	if _, err := handle(ctx, bus.Envelope{Type: bus.MarkMealCompleted, Slot: "lunch"}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	reply, err = handle(ctx, bus.Envelope{Type: bus.GetLocalStorage, Key: bus.MealsKey("2026-07-06")})
	if err != nil || !reply.Found {
		t.Fatalf("get meals = %+v, %v", reply, err)
	}
	var rec model.MealDayRecord
	if err := json.Unmarshal([]byte(reply.Value), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rec.Slot(model.SlotLunch).Completed {
		t.Error("lunch should be completed")
	}

	day, _ := e.meals.Get(ctx, e.user.UserID, "2026-07-06")
	if day == nil || !day.Slot(model.SlotLunch).Completed {
		t.Errorf("stored day = %+v", day)
	}
}

func TestAgentCacheRoundTrip(t *testing.T) {
	_, handle := setupAgentHandler(t)
	ctx := context.Background()

	if _, err := handle(ctx, bus.Envelope{Type: bus.CacheLocalStorage, Key: "theme", Value: "dark"}); err != nil {
		t.Fatalf("cache: %v", err)
	}
	reply, err := handle(ctx, bus.Envelope{Type: bus.GetLocalStorage, Key: "theme"})
	if err != nil || !reply.Found || reply.Value != "dark" {
		t.Errorf("get = %+v, %v", reply, err)
	}

	reply, err = handle(ctx, bus.Envelope{Type: bus.GetLocalStorage, Key: "missing"})
	if err != nil || reply.Found {
		t.Errorf("missing key = %+v, %v", reply, err)
	}

	if _, err := handle(ctx, bus.Envelope{Type: bus.CacheLocalStorage}); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestAgentMarkNotificationSent(t *testing.T) {
	e, handle := setupAgentHandler(t)
	ctx := context.Background()
	at := testNow.Add(-10 * time.Minute)

	req := bus.Envelope{
		Type:             bus.MarkNotificationSent,
		NotificationType: model.MealType(model.SlotLunch),
		Date:             "2026-07-06",
		Timestamp:        at.UnixMilli(),
	}
	if _, err := handle(ctx, req); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	// A repeat report is accepted and keeps one row.
	if _, err := handle(ctx, req); err != nil {
		t.Fatalf("repeat mark sent: %v", err)
	}

	logs, err := e.logs.ListByUser(ctx, e.user.UserID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("log rows = %d, want 1", len(logs))
	}
	if logs[0].LocalDay != "2026-07-06" || logs[0].Metadata["source"] != "agent" {
		t.Errorf("log = %+v", logs[0])
	}

	sent, err := dedup.NewGuard(e.logs).AlreadySent(ctx, e.user.UserID, model.MealType(model.SlotLunch), testNow, e.user.Location())
	if err != nil || !sent {
		t.Errorf("already sent = %v, %v", sent, err)
	}

	day, _ := e.meals.Get(ctx, e.user.UserID, "2026-07-06")
	st := day.Slot(model.SlotLunch)
	if st.NotifiedAt == nil || !st.NotifiedAt.Equal(at) {
		t.Errorf("notified at = %v, want %v", st.NotifiedAt, at)
	}
}

func TestAgentRejectsBadRequests(t *testing.T) {
	_, handle := setupAgentHandler(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  bus.Envelope
	}{
		{"unknown type", bus.Envelope{Type: "REBOOT"}},
		{"invalid slot", bus.Envelope{Type: bus.MarkMealCompleted, Slot: "brunch"}},
		{"missing notification type", bus.Envelope{Type: bus.MarkNotificationSent}},
		{"server-only type", bus.Envelope{Type: bus.CheckMealsNow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := handle(ctx, tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAgentUnknownUser(t *testing.T) {
	e := setupTestEnv(t)
	h := NewAgentHandler(nil, e.users, e.meals, reconcile.New(e.meals), dedup.NewGuard(e.logs), e.cache, time.Second, slog.Default())
	if _, err := h.busHandler(999)(context.Background(), bus.Envelope{Type: bus.GetLocalStorage, Key: bus.KeyPreferences}); err == nil {
		t.Error("expected error for unknown user")
	}
}
