package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mealminder/internal/config"
	"github.com/dukerupert/mealminder/internal/database"
	"github.com/dukerupert/mealminder/internal/dedup"
	"github.com/dukerupert/mealminder/internal/handler"
	"github.com/dukerupert/mealminder/internal/middleware"
	"github.com/dukerupert/mealminder/internal/orchestrator"
	"github.com/dukerupert/mealminder/internal/push"
	"github.com/dukerupert/mealminder/internal/reconcile"
	"github.com/dukerupert/mealminder/internal/scheduler"
	"github.com/dukerupert/mealminder/internal/store"
	ws "github.com/dukerupert/mealminder/internal/websocket"
)

// Per-client budgets, applied before authentication.
var (
	triggerLimit = middleware.Limit{Name: "trigger", Max: 30, Window: time.Minute}
	agentLimit   = middleware.Limit{Name: "agent", Max: 10, Window: time.Minute}
)

const defaultAPIRateLimit = 120

type Server struct {
	hub         *ws.Hub
	userStore   *store.UserStore
	scheduler   *scheduler.Scheduler
	triggerH    *handler.TriggerHandler
	deviceH     *handler.DeviceHandler
	mealH       *handler.MealHandler
	agentH      *handler.AgentHandler
	bearer      *middleware.BearerAuth
	rateLimiter *middleware.RateLimiter
	apiLimit    middleware.Limit
	clientIP    func(*http.Request) string
	logger      *slog.Logger
}

// New wires the stores, the reminder pipeline and the HTTP handlers. sender
// delivers to every configured push backend; vapidPublicKey may be empty.
func New(db *database.DB, cfg *config.Server, sender push.Sender, vapidPublicKey string, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	policyStore := store.NewPolicyStore(db)
	deviceStore := store.NewDeviceStore(db)
	logStore := store.NewNotificationLogStore(db)
	mealStore := store.NewMealStore(db)
	cacheStore := store.NewCacheStore(db)

	guard := dedup.NewGuard(logStore)
	reconciler := reconcile.New(mealStore,
		reconcile.WithCooldown(cfg.MealCooldown),
		reconcile.WithActiveWindow(cfg.ActiveWindow),
		reconcile.WithMatchWindow(cfg.MatchWindow),
	)
	dispatcher := push.NewDispatcher(deviceStore, sender, guard, logger.With("component", "dispatcher"))

	orch := orchestrator.New(policyStore, userStore, reconciler, guard, dispatcher, orchestrator.Config{
		Parallelism: cfg.Parallelism,
		RunBudget:   cfg.RunBudget,
		MatchWindow: cfg.MatchWindow,
	}, logger.With("component", "orchestrator"))

	sched := scheduler.New(orch, logStore, cacheStore, mealStore, scheduler.Config{
		TickSpec:      cfg.CronSpec,
		CleanupSpec:   cfg.CleanupSpec,
		RetentionDays: cfg.RetentionDays,
		TickTimeout:   cfg.RunBudget + 30*time.Second,
	}, logger.With("component", "scheduler"))

	apiMax := cfg.APIRateLimit
	if apiMax <= 0 {
		apiMax = defaultAPIRateLimit
	}

	return &Server{
		hub:         hub,
		userStore:   userStore,
		scheduler:   sched,
		triggerH:    handler.NewTriggerHandler(orch, logger.With("component", "trigger")),
		deviceH:     handler.NewDeviceHandler(deviceStore, vapidPublicKey, logger.With("component", "device")),
		mealH:       handler.NewMealHandler(reconciler, hub, userStore, dispatcher, logger.With("component", "meal")),
		agentH:      handler.NewAgentHandler(hub, userStore, mealStore, reconciler, guard, cacheStore, cfg.AgentTimeout, logger.With("component", "agent")),
		bearer:      middleware.NewBearerAuth(cfg.TriggerSecret, cfg.TriggerSecretHash),
		rateLimiter: middleware.NewRateLimiter(),
		apiLimit:    middleware.Limit{Name: "api", Max: apiMax, Window: time.Minute},
		clientIP:    middleware.ClientIP(cfg.TrustProxy),
		logger:      logger,
	}
}

// Scheduler returns the in-process cron scheduler.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the agent connection hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", handler.Health)
	outerMux.HandleFunc("GET /api/push/vapid-key", s.deviceH.VAPIDKey)

	// Protected routes, wrapped with RequireBearer
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireBearer(s.bearer, s.logger.With("component", "auth"))
	protected := authMiddleware(protectedMux)

	// Rate limits run first so wrong-secret attempts are throttled too.
	outerMux.Handle("POST /api/cron/notifications", s.rateLimited(triggerLimit, protected))
	outerMux.Handle("GET /api/users/{id}/agent", s.rateLimited(agentLimit, protected))
	outerMux.Handle("/api/", s.rateLimited(s.apiLimit, protected))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"), s.clientIP)(outerMux)
}

func (s *Server) rateLimited(lim middleware.Limit, next http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter, s.clientIP, lim, s.logger.With("component", "ratelimit"))(next)
}

func (s *Server) withUser(h http.HandlerFunc) http.Handler {
	return middleware.LoadUser(s.userStore, h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Reminder tick, for external schedulers
	mux.HandleFunc("POST /api/cron/notifications", s.triggerH.Notifications)

	// Device endpoints
	mux.Handle("POST /api/users/{id}/devices", s.withUser(s.deviceH.Register))
	mux.Handle("GET /api/users/{id}/devices", s.withUser(s.deviceH.List))
	mux.Handle("DELETE /api/users/{id}/devices/{deviceID}", s.withUser(s.deviceH.Delete))

	// Meals
	mux.Handle("POST /api/users/{id}/meals/{slot}/complete", s.withUser(s.mealH.Complete))
	mux.Handle("GET /api/users/{id}/meals/today", s.withUser(s.mealH.Today))
	mux.Handle("POST /api/users/{id}/test-notification", s.withUser(s.mealH.TestNotification))

	// Wake agent WebSocket
	mux.Handle("GET /api/users/{id}/agent", s.withUser(s.agentH.Connect))
}
