// Package wake is the client-side reminder agent. It sleeps until the next
// meal checkpoint, re-checks completion from the application or its local
// cache, and shows local notifications.
package wake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/mealminder/internal/bus"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/reconcile"
	"github.com/dukerupert/mealminder/internal/schedule"
)

type State int

const (
	StateIdle State = iota
	StateWaiting
	StateChecking
	StateNotify
	StateSkip
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaiting:
		return "WAITING"
	case StateChecking:
		return "CHECKING"
	case StateNotify:
		return "NOTIFY"
	case StateSkip:
		return "SKIP"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	UserID   int64
	Quiet    QuietHours
	Fallback time.Duration
	Cooldown time.Duration
	Window   time.Duration
}

// CheckResult is the outcome of one CHECKING pass.
type CheckResult struct {
	Notified []model.MealSlot
	Next     time.Time
	Quiet    bool
}

type actionRequest struct {
	action Action
	slot   model.MealSlot
	result chan error
}

// Scheduler is the wake state machine. Only the Run goroutine touches the
// local cache; other goroutines reach it through Poke and HandleAction.
type Scheduler struct {
	userID   int64
	cache    Cache
	notifier Notifier
	clock    Clock
	cfg      Config
	logger   *slog.Logger

	remoteMu sync.RWMutex
	remote   Remote

	// hasPending mirrors whether the local cache holds unsent completions.
	hasPending atomic.Bool

	stateMu sync.RWMutex
	state   State
	nextAt  time.Time

	poke    chan struct{}
	actions chan actionRequest
}

func New(cache Cache, notifier Notifier, clock Clock, cfg Config, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = time.Hour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = reconcile.DefaultCooldown
	}
	return &Scheduler{
		userID:   cfg.UserID,
		cache:    cache,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With("component", "wake", "user_id", cfg.UserID),
		poke:     make(chan struct{}, 1),
		actions:  make(chan actionRequest),
	}
}

// SetRemote attaches or detaches (nil) the application connection. Attaching
// wakes the scheduler when completions are waiting to be replayed.
func (s *Scheduler) SetRemote(r Remote) {
	s.remoteMu.Lock()
	s.remote = r
	s.remoteMu.Unlock()
	if r != nil && s.hasPending.Load() {
		s.Poke()
	}
}

func (s *Scheduler) Remote() Remote {
	s.remoteMu.RLock()
	defer s.remoteMu.RUnlock()
	return s.remote
}

func (s *Scheduler) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// NextCheckAt is the wake time of the current WAITING state.
func (s *Scheduler) NextCheckAt() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.nextAt
}

func (s *Scheduler) setState(st State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = st
	s.stateMu.Unlock()
	if prev != st {
		s.logger.Debug("state", "from", prev, "to", st)
	}
}

// Poke cancels the current wait and re-checks immediately.
func (s *Scheduler) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setState(StateIdle)
	if list, err := s.loadPending(ctx); err != nil {
		s.logger.Warn("load pending completions", "error", err)
	} else {
		s.hasPending.Store(len(list) > 0)
	}
	for {
		res, err := s.Check(ctx)
		next := res.Next
		if err != nil {
			next = s.clock.Now().Add(s.cfg.Fallback)
			s.logger.Warn("check failed, using fallback interval", "error", err, "fallback", s.cfg.Fallback)
		}

		if err := s.wait(ctx, next); err != nil {
			return nil
		}
	}
}

// wait sits in WAITING until next, a poke, or ctx ends. Actions arriving in
// the meantime are applied without leaving the state.
func (s *Scheduler) wait(ctx context.Context, next time.Time) error {
	s.stateMu.Lock()
	s.nextAt = next
	s.stateMu.Unlock()
	s.setState(StateWaiting)

	d := next.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	s.logger.Info("waiting", "next_check_at", next.Format(time.RFC3339), "in", d.Round(time.Second))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			return nil
		case <-s.poke:
			return nil
		case req := <-s.actions:
			req.result <- s.applyAction(ctx, req.action, req.slot)
			if req.action == ActionMarkCompleted {
				return nil
			}
		}
	}
}

// Check runs one CHECKING pass at the current clock time.
func (s *Scheduler) Check(ctx context.Context) (CheckResult, error) {
	s.setState(StateChecking)
	now := s.clock.Now()

	prefs, err := s.loadPreferences(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load preferences: %w", err)
	}
	local := now.In(prefs.Location())
	date := local.Format("2006-01-02")

	completed, err := s.flushPending(ctx, date)
	if err != nil {
		s.logger.Warn("flush pending completions", "error", err)
	}
	rec, err := s.loadMeals(ctx, date, completed)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load meals: %w", err)
	}

	if s.cfg.Quiet.Contains(local) {
		s.setState(StateSkip)
		return CheckResult{Quiet: true, Next: NextCheck(local, prefs, rec, s.cfg.Quiet, s.cfg.Fallback)}, nil
	}

	var res CheckResult
	if prefs.NotificationsEnabled && prefs.MealEnabled {
		active := prefs.ActiveSince(now.Add(-reconcile.DefaultActiveWindow))
		for _, slot := range model.MealSlots {
			hour, minute, ok := schedule.MealTriggerHour(prefs, slot)
			if !ok {
				continue
			}
			fire, reason := reconcile.ShouldNotify(reconcile.Input{
				State:          rec.Slot(slot),
				TriggerHour:    hour,
				TriggerMinute:  minute,
				Now:            local,
				Window:         s.cfg.Window,
				Cooldown:       s.cfg.Cooldown,
				ActiveRecently: active,
			})
			if !fire {
				s.logger.Debug("skip slot", "slot", slot, "reason", reason)
				continue
			}
			if err := s.notify(ctx, prefs, rec, slot, now); err != nil {
				s.logger.Warn("local notification", "slot", slot, "error", err)
				continue
			}
			res.Notified = append(res.Notified, slot)
		}
	}

	if len(res.Notified) > 0 {
		s.setState(StateNotify)
	} else {
		s.setState(StateSkip)
	}
	res.Next = NextCheck(local, prefs, rec, s.cfg.Quiet, s.cfg.Fallback)
	return res, nil
}

func (s *Scheduler) notify(ctx context.Context, prefs model.UserPreference, rec *model.MealDayRecord, slot model.MealSlot, now time.Time) error {
	name := prefs.FirstName()
	if name == "" {
		name = "there"
	}
	err := s.notifier.Notify(ctx, Notification{
		Title:   fmt.Sprintf("Time for %s?", slot.DisplayName()),
		Body:    fmt.Sprintf("%s, your %s was planned for %s. Did you eat?", name, slot.DisplayName(), prefs.MealTime(slot)),
		Tag:     "meal-" + string(slot),
		Slot:    slot,
		Actions: []Action{ActionMarkCompleted, ActionViewMeals},
	})
	if err != nil {
		return err
	}

	st := rec.Slot(slot)
	at := now
	st.NotifiedAt = &at
	rec.Slots[slot] = st
	if err := s.saveMeals(ctx, rec); err != nil {
		s.logger.Warn("save local meals", "error", err)
	}

	if remote := s.Remote(); remote != nil {
		if err := remote.MarkNotificationSent(ctx, model.MealType(slot), rec.Date, now); err != nil {
			s.logger.Warn("report notification", "slot", slot, "error", err)
		}
	}
	return nil
}

// HandleAction applies a notification action on the Run goroutine.
func (s *Scheduler) HandleAction(ctx context.Context, action Action, slot model.MealSlot) error {
	req := actionRequest{action: action, slot: slot, result: make(chan error, 1)}
	select {
	case s.actions <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) applyAction(ctx context.Context, action Action, slot model.MealSlot) error {
	switch action {
	case ActionViewMeals:
		s.logger.Info("view meals requested")
		return nil
	case ActionMarkCompleted:
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if !slot.Valid() {
		return fmt.Errorf("invalid meal slot %q", slot)
	}

	prefs, err := s.loadPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	date := s.clock.Now().In(prefs.Location()).Format("2006-01-02")
	pending, err := s.loadPending(ctx)
	if err != nil {
		return err
	}
	rec, err := s.loadMeals(ctx, date, pending)
	if err != nil {
		return fmt.Errorf("load meals: %w", err)
	}
	st := rec.Slot(slot)
	st.Completed = true
	rec.Slots[slot] = st
	if err := s.saveMeals(ctx, rec); err != nil {
		return fmt.Errorf("save local meals: %w", err)
	}

	// Offline completions are queued and replayed on the next connected check.
	remote := s.Remote()
	if remote == nil {
		s.logger.Info("offline, queueing meal completion", "slot", slot, "date", date)
		return s.queueCompletion(ctx, date, slot)
	}
	if err := remote.MarkMealCompleted(ctx, string(slot)); err != nil {
		s.logger.Warn("request meal completion, queueing", "slot", slot, "error", err)
		return s.queueCompletion(ctx, date, slot)
	}
	return nil
}

// BusHandler answers requests the application sends to the agent.
func (s *Scheduler) BusHandler() bus.Handler {
	return func(ctx context.Context, req bus.Envelope) (bus.Envelope, error) {
		switch req.Type {
		case bus.CheckMealsNow:
			s.Poke()
			return bus.Envelope{}, nil
		}
		return bus.Envelope{}, fmt.Errorf("unsupported request %s", req.Type)
	}
}
