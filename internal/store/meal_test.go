package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
)

func TestMealEnsureIsIdempotent(t *testing.T) {
	ms := NewMealStore(setupTestDB(t))
	ctx := context.Background()

	rec, err := ms.Get(ctx, 1, "2026-03-08")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no record before ensure, got %+v", rec)
	}

	rec, err = ms.Ensure(ctx, 1, "2026-03-08")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(rec.Slots) != len(model.MealSlots) {
		t.Fatalf("slots = %d, want %d", len(rec.Slots), len(model.MealSlots))
	}
	for slot, st := range rec.Slots {
		if st.Completed || st.NotifiedAt != nil {
			t.Errorf("slot %s = %+v, want zero state", slot, st)
		}
	}

	if err := ms.SetCompleted(ctx, 1, "2026-03-08", model.SlotLunch, true); err != nil {
		t.Fatalf("set completed: %v", err)
	}
	rec, err = ms.Ensure(ctx, 1, "2026-03-08")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if !rec.Slot(model.SlotLunch).Completed {
		t.Error("ensure must not reset existing slots")
	}
}

func TestMealSetNotified(t *testing.T) {
	ms := NewMealStore(setupTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 8, 18, 0, 0, 0, time.UTC)

	if err := ms.SetNotified(ctx, 1, "2026-03-08", model.SlotLunch, at); err != nil {
		t.Fatalf("set notified: %v", err)
	}

	rec, err := ms.Get(ctx, 1, "2026-03-08")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	st := rec.Slot(model.SlotLunch)
	if st.NotifiedAt == nil || !st.NotifiedAt.Equal(at) {
		t.Errorf("notified_at = %v, want %v", st.NotifiedAt, at)
	}
	if st.Completed {
		t.Error("notifying must not complete the slot")
	}
}

func TestMealCleanup(t *testing.T) {
	ms := NewMealStore(setupTestDB(t))
	ctx := context.Background()

	ms.Ensure(ctx, 1, "2026-01-01")
	ms.Ensure(ctx, 1, "2026-03-08")

	n, err := ms.CleanupBefore(ctx, "2026-02-01")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != int64(len(model.MealSlots)) {
		t.Errorf("removed = %d, want %d", n, len(model.MealSlots))
	}
	if rec, _ := ms.Get(ctx, 1, "2026-03-08"); rec == nil {
		t.Error("recent day should survive cleanup")
	}
}
