package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/notifyhub/notifyhub/internal/domain"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a default; DATABASE_URL is required only for the
// postgres backend.
type Config struct {
	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Storage
	StoreBackend   string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns     int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`

	// Cross-node realtime relay; disabled when REDIS_URL is empty.
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"notifyhub:realtime"`
	NodeID       string `env:"NODE_ID"`

	// External provider
	ProviderBaseURL string        `env:"PROVIDER_BASE_URL" envDefault:"http://localhost:9090/deliveries"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Workers
	DeliveryWorkers   int           `env:"DELIVERY_WORKERS" envDefault:"10"`
	RateLimit         int           `env:"RATE_LIMIT_PER_CHANNEL" envDefault:"100"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"1s"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" envDefault:"100"`
	DispatchStale     time.Duration `env:"DISPATCH_STALE_AFTER" envDefault:"5m"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5s"`

	// Retry defaults for notifications without their own policy
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryStrategy    string        `env:"RETRY_STRATEGY" envDefault:"exponential"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"5s"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10m"`

	// Realtime
	WSInactivityTimeout time.Duration `env:"WS_INACTIVITY_TIMEOUT" envDefault:"5m"`
	WSCleanupInterval   time.Duration `env:"WS_CLEANUP_INTERVAL" envDefault:"1m"`
	WSSendBuffer        int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	WSAllowedOrigins    []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	WSFrameAuth         bool          `env:"WS_FRAME_AUTH" envDefault:"false"`

	// Policy
	QuietHoursBypassPriority string `env:"QUIET_HOURS_BYPASS_PRIORITY" envDefault:"urgent"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.NodeID == "" {
		cfg.NodeID, _ = os.Hostname()
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.StoreBackend)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.DeliveryWorkers < 1 {
		return errors.New("DELIVERY_WORKERS must be at least 1")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if !domain.BackoffStrategy(c.RetryStrategy).IsValid() {
		return fmt.Errorf("RETRY_STRATEGY %q is not one of fixed, linear, exponential", c.RetryStrategy)
	}
	if !domain.Priority(c.QuietHoursBypassPriority).IsValid() {
		return fmt.Errorf("QUIET_HOURS_BYPASS_PRIORITY %q is not a priority", c.QuietHoursBypassPriority)
	}
	return nil
}

// RetryPolicy is the default applied to notifications without their own.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts: c.RetryMaxAttempts,
		Strategy:    domain.BackoffStrategy(c.RetryStrategy),
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
	}
}

func (c *Config) QuietHoursBypass() domain.Priority {
	return domain.Priority(c.QuietHoursBypassPriority)
}
