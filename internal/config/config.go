package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	FanoutLocal = "local"
	FanoutRedis = "redis"
)

// Config holds service configuration.
type Config struct {
	ServerAddr      string        `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// An empty DatabaseURL selects the in-memory store unless StoreBackend
	// says otherwise.
	DatabaseURL   string `env:"DATABASE_URL"`
	StoreBackend  string `env:"STORE_BACKEND"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"internal/migrations"`

	FanoutBackend      string `env:"FANOUT_BACKEND" envDefault:"local"`
	RedisAddr          string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"agrimarket:negotiation"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	SubscriptionBuffer int           `env:"SUBSCRIPTION_BUFFER" envDefault:"64"`

	ActionRatePerSecond float64 `env:"ACTION_RATE_PER_SECOND" envDefault:"5"`
	ActionRateBurst     int     `env:"ACTION_RATE_BURST" envDefault:"10"`

	EnrichmentPlaceholder string `env:"ENRICHMENT_PLACEHOLDER" envDefault:"Unknown"`
	AlertsPerUser         int    `env:"ALERTS_PER_USER" envDefault:"50"`
	AlertDispatchBuffer   int    `env:"ALERT_DISPATCH_BUFFER" envDefault:"1024"`
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = StorePostgres
		}
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.FanoutBackend = strings.ToLower(cfg.FanoutBackend)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and dependent settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.FanoutBackend {
	case FanoutLocal:
	case FanoutRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for redis fan-out"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FANOUT_BACKEND %q", c.FanoutBackend))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.SubscriptionBuffer <= 0 {
		errs = append(errs, errors.New("SUBSCRIPTION_BUFFER must be positive"))
	}
	if c.AlertDispatchBuffer < c.SubscriptionBuffer {
		errs = append(errs, errors.New("ALERT_DISPATCH_BUFFER must be at least SUBSCRIPTION_BUFFER"))
	}
	if c.ActionRatePerSecond <= 0 || c.ActionRateBurst <= 0 {
		errs = append(errs, errors.New("ACTION_RATE_PER_SECOND and ACTION_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
