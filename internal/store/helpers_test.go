package store

import (
	"context"
	"testing"

	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *database.DB) int64 {
	t.Helper()
	u, err := NewUserStore(db).Create(context.Background(), model.UserPreference{
		DisplayName:          "Sam Carter",
		Timezone:             "America/New_York",
		BreakfastTime:        "08:00",
		LunchTime:            "13:00",
		DinnerTime:           "19:00",
		NotificationsEnabled: true,
		MealEnabled:          true,
		WaterEnabled:         true,
		WeightEnabled:        true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.UserID
}
