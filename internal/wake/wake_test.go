package wake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/mealminder/internal/bus"
	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/store"
)

type fakeTimer struct {
	d time.Duration
	c chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }
func (t *fakeTimer) Stop() bool          { return true }

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers chan *fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, timers: make(chan *fakeTimer, 8)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{d: d, c: make(chan time.Time, 1)}
	c.timers <- t
	return t
}

type fakeRemote struct {
	mu        sync.Mutex
	data      map[string]string
	err       error
	sent      []string
	completed []string
}

func (r *fakeRemote) GetLocalStorage(ctx context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", false, r.err
	}
	v, ok := r.data[key]
	return v, ok, nil
}

func (r *fakeRemote) MarkNotificationSent(ctx context.Context, notifType, date string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notifType+"@"+date)
	return r.err
}

func (r *fakeRemote) MarkMealCompleted(ctx context.Context, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.completed = append(r.completed, slot)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown []Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, note)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shown)
}

var testPrefs = model.UserPreference{
	UserID:               7,
	DisplayName:          "Sam Carter",
	Timezone:             "America/New_York",
	BreakfastTime:        "08:00",
	LunchTime:            "13:00",
	DinnerTime:           "19:00",
	NotificationsEnabled: true,
	MealEnabled:          true,
}

func localCache(t *testing.T) UserCache {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open cache db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return UserCache{Backend: store.NewCacheStore(db), UserID: testPrefs.UserID}
}

func remoteWithPrefs(t *testing.T) *fakeRemote {
	t.Helper()
	raw, err := json.Marshal(testPrefs)
	if err != nil {
		t.Fatalf("marshal prefs: %v", err)
	}
	return &fakeRemote{data: map[string]string{bus.KeyPreferences: string(raw)}}
}

func ny(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestQuietHours(t *testing.T) {
	q := QuietHours{Start: 22, End: 6}
	day := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24; h++ {
		want := h >= 22 || h < 6
		if got := q.Contains(day.Add(time.Duration(h) * time.Hour)); got != want {
			t.Errorf("hour %d: quiet = %v, want %v", h, got, want)
		}
	}
	if (QuietHours{Start: 6, End: 6}).Contains(day) {
		t.Error("equal bounds should disable quiet hours")
	}
	if !(QuietHours{Start: 1, End: 5}).Contains(day.Add(3 * time.Hour)) {
		t.Error("non-wrapping window should contain 03:00")
	}
}

func TestNextCheck(t *testing.T) {
	loc := ny(t)
	quiet := QuietHours{Start: 22, End: 6}
	at := func(day, h, m int) time.Time { return time.Date(2026, 7, day, h, m, 0, 0, loc) }
	fresh := model.NewMealDayRecord(7, "2026-07-06")

	notifiedBreakfast := model.NewMealDayRecord(7, "2026-07-06")
	n := at(6, 9, 0)
	notifiedBreakfast.Slots[model.SlotBreakfast] = model.SlotState{NotifiedAt: &n}

	allDone := model.NewMealDayRecord(7, "2026-07-06")
	for _, s := range model.MealSlots {
		allDone.Slots[s] = model.SlotState{Completed: true}
	}

	tests := []struct {
		name  string
		local time.Time
		prefs model.UserPreference
		rec   *model.MealDayRecord
		want  time.Time
	}{
		{"before breakfast", at(6, 7, 0), testPrefs, fresh, at(6, 9, 0)},
		{"at breakfast checkpoint", at(6, 9, 0), testPrefs, fresh, at(6, 14, 0)},
		{"breakfast notified", at(6, 8, 30), testPrefs, notifiedBreakfast, at(6, 14, 0)},
		{"all done goes to next day", at(6, 10, 0), testPrefs, allDone, at(7, 8, 0)},
		{"after dinner checkpoint", at(6, 21, 0), testPrefs, fresh, at(7, 8, 0)},
		{"late evening quiet", at(6, 22, 30), testPrefs, fresh, at(7, 6, 0)},
		{"early morning quiet", at(6, 3, 0), testPrefs, fresh, at(6, 6, 0)},
		{"no meals configured", at(6, 12, 0), model.UserPreference{}, fresh, at(6, 13, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextCheck(tt.local, tt.prefs, tt.rec, quiet, time.Hour)
			if !got.Equal(tt.want) {
				t.Errorf("NextCheck = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckNotifiesAtCheckpoint(t *testing.T) {
	loc := ny(t)
	remote := remoteWithPrefs(t)
	notifier := &recordingNotifier{}
	clock := newFakeClock(time.Date(2026, 7, 6, 9, 0, 0, 0, loc))

	s := New(localCache(t), notifier, clock, Config{UserID: 7, Quiet: QuietHours{22, 6}}, nil)
	s.SetRemote(remote)

	res, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(res.Notified) != 1 || res.Notified[0] != model.SlotBreakfast {
		t.Fatalf("notified = %v, want breakfast", res.Notified)
	}
	if s.State() != StateNotify {
		t.Errorf("state = %s, want NOTIFY", s.State())
	}
	note := notifier.shown[0]
	if len(note.Actions) != 2 || note.Actions[0] != ActionMarkCompleted || note.Actions[1] != ActionViewMeals {
		t.Errorf("actions = %v", note.Actions)
	}
	if len(remote.sent) != 1 || remote.sent[0] != "meal_reminder_breakfast@2026-07-06" {
		t.Errorf("reported = %v", remote.sent)
	}

	// The application has not caught up, but the local record has.
	remote.err = errors.New("offline")
	res, err = s.Check(context.Background())
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if len(res.Notified) != 0 {
		t.Errorf("second check notified %v", res.Notified)
	}
	if s.State() != StateSkip {
		t.Errorf("state = %s, want SKIP", s.State())
	}
}

func TestCheckQuietHours(t *testing.T) {
	loc := ny(t)
	notifier := &recordingNotifier{}
	clock := newFakeClock(time.Date(2026, 7, 6, 23, 0, 0, 0, loc))
	s := New(localCache(t), notifier, clock, Config{UserID: 7, Quiet: QuietHours{22, 6}}, nil)
	s.SetRemote(remoteWithPrefs(t))

	res, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Quiet || !res.Next.Equal(time.Date(2026, 7, 7, 6, 0, 0, 0, loc)) {
		t.Errorf("result = %+v", res)
	}
	if notifier.count() != 0 {
		t.Error("no notifications during quiet hours")
	}
}

func TestCheckUsesLocalCacheWhenOffline(t *testing.T) {
	loc := ny(t)
	cache := localCache(t)
	clock := newFakeClock(time.Date(2026, 7, 6, 14, 0, 0, 0, loc))
	notifier := &recordingNotifier{}
	s := New(cache, notifier, clock, Config{UserID: 7, Quiet: QuietHours{22, 6}}, nil)

	// No remote and nothing cached yet.
	if _, err := s.Check(context.Background()); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}

	// One successful read seeds the cache.
	remote := remoteWithPrefs(t)
	s.SetRemote(remote)
	clock.Set(time.Date(2026, 7, 6, 12, 0, 0, 0, loc))
	if _, err := s.Check(context.Background()); err != nil {
		t.Fatalf("online check: %v", err)
	}

	s.SetRemote(nil)
	clock.Set(time.Date(2026, 7, 6, 14, 0, 0, 0, loc))
	res, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("offline check: %v", err)
	}
	if len(res.Notified) != 1 || res.Notified[0] != model.SlotLunch {
		t.Errorf("offline notified = %v, want lunch", res.Notified)
	}
}

func TestRunStateMachine(t *testing.T) {
	loc := ny(t)
	remote := remoteWithPrefs(t)
	notifier := &recordingNotifier{}
	clock := newFakeClock(time.Date(2026, 7, 6, 7, 0, 0, 0, loc))
	s := New(localCache(t), notifier, clock, Config{UserID: 7, Quiet: QuietHours{22, 6}}, nil)
	s.SetRemote(remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	nextTimer := func() *fakeTimer {
		t.Helper()
		select {
		case tm := <-clock.timers:
			return tm
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler never started waiting")
			return nil
		}
	}

	// 07:00: nothing due until the breakfast checkpoint.
	tm := nextTimer()
	if tm.d != 2*time.Hour {
		t.Fatalf("first wait = %s, want 2h", tm.d)
	}
	if s.State() != StateWaiting {
		t.Errorf("state = %s, want WAITING", s.State())
	}

	// 09:00: breakfast reminder, then sleep until the lunch checkpoint.
	clock.Set(time.Date(2026, 7, 6, 9, 0, 0, 0, loc))
	tm.c <- clock.Now()
	tm = nextTimer()
	if tm.d != 5*time.Hour {
		t.Fatalf("second wait = %s, want 5h", tm.d)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}

	// CHECK_MEALS_NOW re-checks without a duplicate reminder.
	if _, err := s.BusHandler()(ctx, bus.Envelope{Type: bus.CheckMealsNow}); err != nil {
		t.Fatalf("bus handler: %v", err)
	}
	tm = nextTimer()
	if tm.d != 5*time.Hour || notifier.count() != 1 {
		t.Errorf("after poke: wait %s, notifications %d", tm.d, notifier.count())
	}

	// Completing lunch moves the next wake to the dinner checkpoint.
	if err := s.HandleAction(ctx, ActionMarkCompleted, model.SlotLunch); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	tm = nextTimer()
	if tm.d != 11*time.Hour {
		t.Errorf("after completing lunch wait = %s, want 11h", tm.d)
	}
	remote.mu.Lock()
	if len(remote.completed) != 1 || remote.completed[0] != "lunch" {
		t.Errorf("completion requests = %v", remote.completed)
	}
	remote.mu.Unlock()
}

func TestRunFallsBackOnError(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC))
	s := New(localCache(t), &recordingNotifier{}, clock, Config{UserID: 7, Fallback: 45 * time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case tm := <-clock.timers:
		if tm.d != 45*time.Minute {
			t.Errorf("wait = %s, want fallback 45m", tm.d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never started waiting")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
}

func TestHandleActionUnknown(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC))
	s := New(localCache(t), &recordingNotifier{}, clock, Config{UserID: 7}, nil)
	s.SetRemote(remoteWithPrefs(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	<-clock.timers

	if err := s.HandleAction(ctx, "snooze", model.SlotLunch); err == nil {
		t.Error("expected error for unknown action")
	}
	if err := s.HandleAction(ctx, ActionViewMeals, ""); err != nil {
		t.Errorf("view meals: %v", err)
	}
}

func TestOfflineCompletionReplayedOnReconnect(t *testing.T) {
	loc := ny(t)
	ctx := context.Background()
	remote := remoteWithPrefs(t)
	rec := model.NewMealDayRecord(7, "2026-07-06")
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal meals: %v", err)
	}
	remote.data[bus.MealsKey("2026-07-06")] = string(raw)

	notifier := &recordingNotifier{}
	clock := newFakeClock(time.Date(2026, 7, 6, 12, 0, 0, 0, loc))
	s := New(localCache(t), notifier, clock, Config{UserID: 7, Quiet: QuietHours{22, 6}}, nil)

	// Seed the local cache while connected.
	s.SetRemote(remote)
	if _, err := s.Check(ctx); err != nil {
		t.Fatalf("online check: %v", err)
	}

	s.SetRemote(nil)
	clock.Set(time.Date(2026, 7, 6, 13, 30, 0, 0, loc))
	if err := s.applyAction(ctx, ActionMarkCompleted, model.SlotLunch); err != nil {
		t.Fatalf("offline completion: %v", err)
	}
	pending, err := s.loadPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v; want one entry", pending, err)
	}

	// Reconnecting wakes the scheduler to replay.
	s.SetRemote(remote)
	select {
	case <-s.poke:
	default:
		t.Error("attaching a remote with queued completions should poke")
	}

	clock.Set(time.Date(2026, 7, 6, 14, 0, 0, 0, loc))
	res, err := s.Check(ctx)
	if err != nil {
		t.Fatalf("reconnected check: %v", err)
	}
	if len(res.Notified) != 0 || notifier.count() != 0 {
		t.Errorf("notified = %v after completing lunch offline", res.Notified)
	}
	remote.mu.Lock()
	if len(remote.completed) != 1 || remote.completed[0] != "lunch" {
		t.Errorf("completion requests = %v, want [lunch]", remote.completed)
	}
	remote.mu.Unlock()
	if pending, _ := s.loadPending(ctx); len(pending) != 0 {
		t.Errorf("pending after replay = %v", pending)
	}
}

func TestStalePendingCompletionDropped(t *testing.T) {
	loc := ny(t)
	ctx := context.Background()
	remote := remoteWithPrefs(t)
	clock := newFakeClock(time.Date(2026, 7, 6, 13, 0, 0, 0, loc))
	s := New(localCache(t), &recordingNotifier{}, clock, Config{UserID: 7}, nil)

	if err := s.savePending(ctx, []pendingCompletion{{Date: "2026-07-05", Slot: model.SlotDinner}}); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	s.SetRemote(remote)
	if _, err := s.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(remote.completed) != 0 {
		t.Errorf("replayed yesterday's completion: %v", remote.completed)
	}
	if pending, _ := s.loadPending(ctx); len(pending) != 0 {
		t.Errorf("pending = %v, want empty", pending)
	}
}

func TestMergeMealsKeepsLocalState(t *testing.T) {
	loc := ny(t)
	early := time.Date(2026, 7, 6, 9, 0, 0, 0, loc)
	late := time.Date(2026, 7, 6, 14, 0, 0, 0, loc)

	server := model.NewMealDayRecord(7, "2026-07-06")
	server.Slots[model.SlotBreakfast] = model.SlotState{NotifiedAt: &early}
	local := model.NewMealDayRecord(7, "2026-07-06")
	local.Slots[model.SlotLunch] = model.SlotState{Completed: true, NotifiedAt: &late}

	mergeMeals(server, local, []pendingCompletion{{Date: "2026-07-06", Slot: model.SlotLunch}})

	if n := server.Slot(model.SlotBreakfast).NotifiedAt; n == nil || !n.Equal(early) {
		t.Errorf("breakfast notified_at = %v", n)
	}
	lunch := server.Slot(model.SlotLunch)
	if !lunch.Completed || lunch.NotifiedAt == nil || !lunch.NotifiedAt.Equal(late) {
		t.Errorf("lunch = %+v, want completed and notified at 14:00", lunch)
	}

	// Without a queued completion the application's answer stands.
	server = model.NewMealDayRecord(7, "2026-07-06")
	mergeMeals(server, local, nil)
	if server.Slot(model.SlotLunch).Completed {
		t.Error("unqueued local completion should not override the application")
	}
}
