package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Server holds configuration for the reminder engine (REMINDER_* variables).
type Server struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"mealminder.db"`

	// Exactly one of these must be set. The hash is a bcrypt digest of the secret.
	TriggerSecret     string `envconfig:"TRIGGER_SECRET"`
	TriggerSecretHash string `envconfig:"TRIGGER_SECRET_HASH"`

	CronEnabled   bool   `envconfig:"CRON_ENABLED" default:"true"`
	CronSpec      string `envconfig:"CRON_SPEC" default:"0 * * * *"`
	CleanupSpec   string `envconfig:"CLEANUP_SPEC" default:"30 3 * * *"`
	RetentionDays int    `envconfig:"RETENTION_DAYS" default:"30"`

	RunBudget    time.Duration `envconfig:"RUN_BUDGET" default:"8s"`
	Parallelism  int           `envconfig:"PARALLELISM" default:"4"`
	MatchWindow  time.Duration `envconfig:"MATCH_WINDOW" default:"0s"`
	MealCooldown time.Duration `envconfig:"MEAL_COOLDOWN" default:"60m"`
	ActiveWindow time.Duration `envconfig:"ACTIVE_WINDOW" default:"30m"`
	AgentTimeout time.Duration `envconfig:"AGENT_TIMEOUT" default:"3s"`

	// Honor X-Real-IP and X-Forwarded-For only behind a reverse proxy that sets them.
	TrustProxy   bool `envconfig:"TRUST_PROXY" default:"false"`
	APIRateLimit int  `envconfig:"API_RATE_LIMIT" default:"120"`

	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `envconfig:"VAPID_SUBJECT" default:"mailto:noreply@mealminder.app"`

	FCMCredentialsFile string `envconfig:"FCM_CREDENTIALS_FILE"`
	TelegramToken      string `envconfig:"TELEGRAM_TOKEN"`
}

// Agent holds configuration for the client wake agent (AGENT_* variables).
type Agent struct {
	ServerURL        string        `envconfig:"SERVER_URL" default:"ws://localhost:8080"`
	UserID           int64         `envconfig:"USER_ID" required:"true"`
	Secret           string        `envconfig:"SECRET" required:"true"`
	CachePath        string        `envconfig:"CACHE_PATH" default:"agent-cache.db"`
	FallbackInterval time.Duration `envconfig:"FALLBACK_INTERVAL" default:"1h"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"3s"`
	QuietStart       int           `envconfig:"QUIET_START" default:"22"`
	QuietEnd         int           `envconfig:"QUIET_END" default:"6"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServer reads REMINDER_* variables, after loading a .env file if present.
func LoadServer() (*Server, error) {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	var cfg Server
	if err := envconfig.Process("REMINDER", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Server) Validate() error {
	if c.TriggerSecret == "" && c.TriggerSecretHash == "" {
		return errors.New("REMINDER_TRIGGER_SECRET or REMINDER_TRIGGER_SECRET_HASH must be set")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported REMINDER_DB_DRIVER %q", c.DBDriver)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("REMINDER_PARALLELISM must be at least 1, got %d", c.Parallelism)
	}
	if c.RunBudget <= 0 {
		return fmt.Errorf("REMINDER_RUN_BUDGET must be positive, got %s", c.RunBudget)
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("REMINDER_API_RATE_LIMIT must not be negative, got %d", c.APIRateLimit)
	}
	if c.MatchWindow < 0 || c.MatchWindow >= time.Hour {
		return fmt.Errorf("REMINDER_MATCH_WINDOW must be in [0, 1h), got %s", c.MatchWindow)
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return errors.New("REMINDER_VAPID_PUBLIC_KEY and REMINDER_VAPID_PRIVATE_KEY must be set together")
	}
	return nil
}

// LoadAgent reads AGENT_* variables, after loading a .env file if present.
func LoadAgent() (*Agent, error) {
	_ = godotenv.Load()

	var cfg Agent
	if err := envconfig.Process("AGENT", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if cfg.QuietStart < 0 || cfg.QuietStart > 23 || cfg.QuietEnd < 0 || cfg.QuietEnd > 23 {
		return nil, fmt.Errorf("quiet hours must be within 0-23, got %d-%d", cfg.QuietStart, cfg.QuietEnd)
	}
	if cfg.FallbackInterval <= 0 {
		return nil, fmt.Errorf("AGENT_FALLBACK_INTERVAL must be positive, got %s", cfg.FallbackInterval)
	}
	return &cfg, nil
}
