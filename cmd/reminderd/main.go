package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/mealminder/internal/config"
	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/logging"
	"github.com/dukerupert/mealminder/internal/model"
	"github.com/dukerupert/mealminder/internal/push"
	"github.com/dukerupert/mealminder/internal/server"
)

func main() {
	if len(os.Args) > 1 {
		if err := runCommand(os.Args[1], os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sender, vapidKey, err := buildSender(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("failed to configure push backends", "error", err)
		os.Exit(1)
	}

	srv := server.New(db, cfg, sender, vapidKey, logger)

	if cfg.CronEnabled {
		if err := srv.Scheduler().Start(); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: agent WebSocket connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					slog.Debug("rate limiter cleanup", "expired", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("reminder engine starting", "addr", ":"+cfg.Port, "driver", cfg.DBDriver, "cron", cfg.CronEnabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	if cfg.CronEnabled {
		srv.Scheduler().Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// buildSender registers a backend for every configured provider.
func buildSender(ctx context.Context, cfg *config.Server, logger *slog.Logger) (push.Sender, string, error) {
	router := push.NewRouter()

	var vapidKey string
	if cfg.VAPIDPublicKey != "" {
		wp := push.NewWebPush(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
		router.Register(model.EndpointWebPush, wp)
		vapidKey = wp.VAPIDPublicKey()
	}
	if cfg.FCMCredentialsFile != "" {
		fcm, err := push.NewFCM(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, "", err
		}
		router.Register(model.EndpointFCM, fcm)
	}
	if cfg.TelegramToken != "" {
		tg, err := push.NewTelegram(cfg.TelegramToken)
		if err != nil {
			return nil, "", err
		}
		router.Register(model.EndpointTelegram, tg)
	}

	if kinds := router.Kinds(); len(kinds) == 0 {
		logger.Warn("no push backends configured, every delivery will fail")
	} else {
		logger.Info("push backends configured", "kinds", kinds)
	}
	return router, vapidKey, nil
}

// runCommand handles the offline helper commands.
func runCommand(name string, args []string) error {
	switch name {
	case "gen-vapid":
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Printf("REMINDER_VAPID_PUBLIC_KEY=%s\nREMINDER_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return nil
	case "hash-secret":
		if len(args) != 1 {
			return fmt.Errorf("usage: reminderd hash-secret <secret>")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Printf("REMINDER_TRIGGER_SECRET_HASH=%s\n", hash)
		return nil
	}
	return fmt.Errorf("unknown command %q (want gen-vapid or hash-secret)", name)
}
