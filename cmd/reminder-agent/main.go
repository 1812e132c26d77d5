package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/mealminder/internal/bus"
	"github.com/dukerupert/mealminder/internal/config"
	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/logging"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/store"
	"github.com/dukerupert/mealminder/internal/wake"
	"github.com/dukerupert/mealminder/internal/websocket"
)

const maxBackoff = 2 * time.Minute

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, "text")

	db, err := database.Open(database.DriverSQLite, cfg.CachePath)
	if err != nil {
		slog.Error("failed to open local cache", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache := wake.UserCache{Backend: store.NewCacheStore(db), UserID: cfg.UserID}
	sched := wake.New(cache, wake.LogNotifier{Logger: logger}, wake.SystemClock{}, wake.Config{
		UserID:   cfg.UserID,
		Quiet:    wake.QuietHours{Start: cfg.QuietStart, End: cfg.QuietEnd},
		Fallback: cfg.FallbackInterval,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go connectLoop(ctx, cfg, sched, logger)
	go readActions(ctx, os.Stdin, sched, logger)

	slog.Info("wake agent starting", "user_id", cfg.UserID, "server", cfg.ServerURL)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("wake scheduler stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("wake agent stopped")
}

// connectLoop keeps the agent attached to the server, reconnecting with
// exponential backoff. While detached the scheduler runs on its local cache.
func connectLoop(ctx context.Context, cfg *config.Agent, sched *wake.Scheduler, logger *slog.Logger) {
	url := fmt.Sprintf("%s/api/users/%d/agent", strings.TrimSuffix(cfg.ServerURL, "/"), cfg.UserID)
	header := http.Header{"Authorization": {"Bearer " + cfg.Secret}}

	backoff := time.Second
	for ctx.Err() == nil {
		tr, err := websocket.Dial(ctx, url, header)
		if err != nil {
			logger.Warn("connect to server", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		conn := bus.NewConn(tr, sched.BusHandler(), cfg.RequestTimeout, logger)
		sched.SetRemote(conn)
		sched.Poke()
		logger.Info("connected to server")

		err = conn.Serve(ctx)
		sched.SetRemote(nil)
		if err != nil {
			logger.Warn("server connection lost", "error", err)
		} else {
			logger.Info("server connection closed")
		}
	}
}

// readActions applies notification actions typed as "<action> [slot]", for
// example "mark-completed lunch".
func readActions(ctx context.Context, r io.Reader, sched *wake.Scheduler, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var slot model.MealSlot
		if len(fields) > 1 {
			slot = model.MealSlot(fields[1])
		}
		if err := sched.HandleAction(ctx, wake.Action(fields[0]), slot); err != nil {
			logger.Warn("notification action", "action", fields[0], "error", err)
		}
	}
}
