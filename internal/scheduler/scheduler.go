// Package scheduler drives reminder ticks and retention cleanup in-process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/mealminder/internal/orchestrator"
)

// Runner executes one reminder tick.
type Runner interface {
	Run(ctx context.Context, now time.Time) (*orchestrator.Summary, error)
}

// InstantCleaner deletes rows older than an instant.
type InstantCleaner interface {
	CleanupBefore(ctx context.Context, t time.Time) (int64, error)
}

// DateCleaner deletes rows dated before a YYYY-MM-DD day.
type DateCleaner interface {
	CleanupBefore(ctx context.Context, date string) (int64, error)
}

type Config struct {
	TickSpec      string
	CleanupSpec   string
	RetentionDays int
	// TickTimeout bounds one tick including fetches; the orchestrator applies
	// its own run budget inside it.
	TickTimeout time.Duration
}

// Scheduler owns a cron engine with the tick and cleanup jobs.
type Scheduler struct {
	engine *cron.Cron
	runner Runner
	logs   InstantCleaner
	cache  InstantCleaner
	meals  DateCleaner
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(runner Runner, logs, cache InstantCleaner, meals DateCleaner, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Minute
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		engine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logs:   logs,
		cache:  cache,
		meals:  meals,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers the jobs and starts the engine. Cron specs are evaluated
// in UTC; per-user timezones are handled by the evaluator.
func (s *Scheduler) Start() error {
	if _, err := s.engine.AddFunc(s.cfg.TickSpec, s.tick); err != nil {
		return fmt.Errorf("add tick job %q: %w", s.cfg.TickSpec, err)
	}
	if s.cfg.CleanupSpec != "" && s.cfg.RetentionDays > 0 {
		if _, err := s.engine.AddFunc(s.cfg.CleanupSpec, s.cleanup); err != nil {
			return fmt.Errorf("add cleanup job %q: %w", s.cfg.CleanupSpec, err)
		}
	}
	s.engine.Start()
	s.logger.Info("scheduler started", "tick", s.cfg.TickSpec, "cleanup", s.cfg.CleanupSpec)
	return nil
}

// Stop stops the engine and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.engine.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
	defer cancel()

	if _, err := s.runner.Run(ctx, s.now()); err != nil {
		s.logger.Error("scheduled reminder run", "error", err)
	}
}

func (s *Scheduler) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
	defer cancel()

	if err := s.Cleanup(ctx, s.now()); err != nil {
		s.logger.Error("retention cleanup", "error", err)
	}
}

// Cleanup removes day-scoped rows older than the retention window.
func (s *Scheduler) Cleanup(ctx context.Context, now time.Time) error {
	cutoff := now.UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	logs, err := s.logs.CleanupBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	// Meal dates are local; one extra day covers every timezone.
	meals, err := s.meals.CleanupBefore(ctx, cutoff.AddDate(0, 0, -1).Format("2006-01-02"))
	if err != nil {
		return err
	}
	var cached int64
	if s.cache != nil {
		if cached, err = s.cache.CleanupBefore(ctx, cutoff); err != nil {
			return err
		}
	}

	s.logger.Info("retention cleanup",
		"cutoff", cutoff.Format(time.RFC3339),
		"logs", logs,
		"meal_slots", meals,
		"cache", cached,
	)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
