package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

// Config holds the complete application configuration, loadable from
// environment variables (DISCOUNTS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL; empty runs the in-memory store (DISCOUNTS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Stacking    StackingConfig
	Caps        CapsConfig
	Concurrency ConcurrencyConfig
	Events      EventsConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StackingConfig selects how eligible discounts are ordered within one
// apply pass.
type StackingConfig struct {
	Order     string `default:"priority" usage:"Stacking key: priority, assigned_at, usage_count"`
	Direction string `default:"desc" usage:"Stacking direction: asc, desc"`
}

// CapsConfig bounds and shapes computed discount amounts.
type CapsConfig struct {
	MaxPercentage float64 `default:"50" usage:"Global cap on total discount as percent of the original amount; 0 disables" flag:"max-percentage"`
	Rounding      string  `default:"floor" usage:"Rounding mode: floor, ceil, round"`
	Precision     int     `default:"2" usage:"Decimal places for rounding"`
}

// ConcurrencyConfig bounds per-user lock acquisition.
type ConcurrencyConfig struct {
	LockTimeout time.Duration `default:"5s" usage:"Per-user lock acquisition bound" flag:"lock-timeout"`
}

// EventsConfig sizes the event bus.
type EventsConfig struct {
	QueueSize int `default:"256" usage:"Per-subscriber event queue capacity" flag:"event-queue-size"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and flags. Enumeration values are resolved here so that
// unrecognized strings fail startup instead of surfacing per request.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DISCOUNTS",
		Files:     []string{"config.yaml", "/etc/userdiscounts/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if _, err := cfg.EngineOptions(); err != nil {
		return nil, err
	}
	if cfg.Caps.Precision < 0 {
		return nil, errors.Errorf("caps precision must not be negative, got %d", cfg.Caps.Precision)
	}
	if cfg.Caps.MaxPercentage < 0 {
		return nil, errors.Errorf("caps max percentage must not be negative, got %v", cfg.Caps.MaxPercentage)
	}

	return &cfg, nil
}

// EngineOptions resolves the stacking and caps configuration into engine
// options, rejecting unknown enumeration values.
func (c *Config) EngineOptions() (discount.Options, error) {
	key, err := discount.ParseOrderKey(c.Stacking.Order)
	if err != nil {
		return discount.Options{}, errors.Wrap(err, "stacking order")
	}
	dir, err := discount.ParseDirection(c.Stacking.Direction)
	if err != nil {
		return discount.Options{}, errors.Wrap(err, "stacking direction")
	}
	mode, err := discount.ParseRoundingMode(c.Caps.Rounding)
	if err != nil {
		return discount.Options{}, errors.Wrap(err, "caps rounding")
	}

	return discount.Options{
		StackingKey:       key,
		StackingDirection: dir,
		MaxPercentage:     decimal.NewFromFloat(c.Caps.MaxPercentage),
		Rounder:           discount.NewRounder(mode, c.Caps.Precision),
	}, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DISCOUNTS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
