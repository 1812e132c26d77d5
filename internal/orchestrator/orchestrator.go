// Package orchestrator runs one reminder tick over every policy and user.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/mealminder/internal/dedup"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/push"
	"github.com/dukerupert/mealminder/internal/schedule"
)

// Fatal errors for a tick. The caller reports a server error and the next
// tick retries.
var (
	ErrConfigFetch = errors.New("config fetch failed")
	ErrUserFetch   = errors.New("user fetch failed")
)

type PolicySource interface {
	ListActive(ctx context.Context) ([]model.NotificationPolicy, error)
	TouchFired(ctx context.Context, id int64, at time.Time) error
}

type UserSource interface {
	ListNotifiable(ctx context.Context) ([]model.UserPreference, error)
}

// MealChecker is the meal completion reconciler.
type MealChecker interface {
	Check(ctx context.Context, user model.UserPreference, slot model.MealSlot, now time.Time) (bool, string, error)
	MarkNotified(ctx context.Context, user model.UserPreference, slot model.MealSlot, at time.Time) error
}

type Deliverer interface {
	Deliver(ctx context.Context, req push.Request) (*push.Outcome, error)
}

type Config struct {
	Parallelism int
	RunBudget   time.Duration
	MatchWindow time.Duration
}

// PairError is a non-fatal failure for one policy and user.
type PairError struct {
	UserID int64  `json:"userId"`
	Type   string `json:"type"`
	Err    error  `json:"-"`
	Detail string `json:"error"`
}

func (e *PairError) Error() string {
	return fmt.Sprintf("user %d %s: %v", e.UserID, e.Type, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

// TypeResult is the per-policy breakdown.
type TypeResult struct {
	Type   string `json:"type"`
	Sent   int    `json:"sent"`
	Errors int    `json:"errors"`
}

// Summary is the outcome of one tick.
type Summary struct {
	RunID      string       `json:"runId"`
	Success    bool         `json:"success"`
	Timestamp  time.Time    `json:"timestamp"`
	TotalSent  int          `json:"totalSent"`
	TotalUsers int          `json:"totalUsers"`
	Skipped    int          `json:"skipped"`
	Results    []TypeResult `json:"results"`
	Errors     []*PairError `json:"errors,omitempty"`
}

type Orchestrator struct {
	policies   PolicySource
	users      UserSource
	meals      MealChecker
	guard      *dedup.Guard
	dispatcher Deliverer
	evaluator  schedule.Evaluator
	cfg        Config
	logger     *slog.Logger
}

func New(policies PolicySource, users UserSource, meals MealChecker, guard *dedup.Guard, dispatcher Deliverer, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		policies:   policies,
		users:      users,
		meals:      meals,
		guard:      guard,
		dispatcher: dispatcher,
		evaluator:  schedule.Evaluator{Window: cfg.MatchWindow},
		cfg:        cfg,
		logger:     logger,
	}
}

type pair struct {
	index  int
	policy model.NotificationPolicy
	user   model.UserPreference
}

// Run evaluates every (policy, user) pair at now. Pairs not started before
// the run budget expires are skipped; the dedup guard makes the next tick
// pick them up safely.
func (o *Orchestrator) Run(ctx context.Context, now time.Time) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.NewString(), Timestamp: now.UTC()}
	logger := o.logger.With("run_id", sum.RunID)

	policies, err := o.policies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFetch, err)
	}
	users, err := o.users.ListNotifiable(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserFetch, err)
	}
	sum.TotalUsers = len(users)

	sum.Results = make([]TypeResult, len(policies))
	for i, p := range policies {
		sum.Results[i].Type = p.Type
	}

	runCtx := ctx
	if o.cfg.RunBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunBudget)
		defer cancel()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.cfg.Parallelism)

	record := func(pr pair, sent bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		if sent {
			sum.TotalSent++
			sum.Results[pr.index].Sent++
		}
		if err != nil {
			sum.Results[pr.index].Errors++
			sum.Errors = append(sum.Errors, &PairError{
				UserID: pr.user.UserID,
				Type:   pr.policy.Type,
				Err:    err,
				Detail: err.Error(),
			})
		}
	}
	skip := func() {
		mu.Lock()
		sum.Skipped++
		mu.Unlock()
	}

	for i, p := range policies {
		for _, u := range users {
			if runCtx.Err() != nil {
				skip()
				continue
			}
			pr := pair{index: i, policy: p, user: u}
			g.Go(func() error {
				if runCtx.Err() != nil {
					skip()
					return nil
				}
				sent, err := o.processPair(runCtx, pr, now, logger)
				record(pr, sent, err)
				return nil
			})
		}
	}
	_ = g.Wait()

	sum.Success = true
	if sum.Skipped > 0 {
		logger.Warn("run budget exhausted", "skipped", sum.Skipped, "budget", o.cfg.RunBudget)
	}
	logger.Info("reminder run complete",
		"sent", sum.TotalSent,
		"users", sum.TotalUsers,
		"policies", len(policies),
		"errors", len(sum.Errors),
		"duration", time.Since(start),
	)
	return sum, nil
}

func (o *Orchestrator) processPair(ctx context.Context, pr pair, now time.Time, logger *slog.Logger) (bool, error) {
	p, u := pr.policy, pr.user

	decision := o.evaluator.Evaluate(p, u, now)
	if !decision.Fire {
		return false, nil
	}

	var vars map[string]string
	if decision.Slot != "" {
		fire, reason, err := o.meals.Check(ctx, u, decision.Slot, now)
		if err != nil {
			return false, err
		}
		if !fire {
			logger.Debug("meal reminder suppressed", "user_id", u.UserID, "slot", decision.Slot, "reason", reason)
			return false, nil
		}
		vars = push.MealVars(u, decision.Slot)
	}

	loc := u.Location()
	sent, err := o.guard.AlreadySent(ctx, u.UserID, p.Type, now, loc)
	if err != nil {
		return false, err
	}
	if sent {
		return false, nil
	}
	claim, err := o.guard.Claim(ctx, u.UserID, p.Type, now, loc)
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}

	out, err := o.dispatcher.Deliver(ctx, push.Request{
		User:  u,
		Type:  p.Type,
		Title: p.TitleTemplate,
		Body:  p.BodyTemplate,
		Vars:  vars,
		Data:  map[string]string{"date": schedule.LocalDay(u, now)},
		Now:   now,
	})
	if err != nil && out == nil {
		if rerr := o.guard.Release(context.WithoutCancel(ctx), claim); rerr != nil {
			logger.Error("release claim", "user_id", u.UserID, "type", p.Type, "error", rerr)
		}
		if errors.Is(err, push.ErrNoEndpoints) {
			logger.Info("no endpoints", "user_id", u.UserID, "type", p.Type)
			return false, nil
		}
		return false, err
	}
	// A delivered message keeps its claim even when logging failed.
	if err != nil {
		return true, err
	}

	post := context.WithoutCancel(ctx)
	if decision.Slot != "" {
		if err := o.meals.MarkNotified(post, u, decision.Slot, now); err != nil {
			return true, err
		}
	}
	if err := o.policies.TouchFired(post, p.ID, now); err != nil {
		logger.Warn("touch policy", "type", p.Type, "error", err)
	}
	logger.Info("notification sent",
		"user_id", u.UserID,
		"type", p.Type,
		"reason", decision.Reason,
		"devices", out.SuccessCount,
	)
	return true, nil
}
