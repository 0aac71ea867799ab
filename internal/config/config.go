package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/stockflow/storefront/internal/money"
)

const (
	defaultAppName        = "Stockflow"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultLedgerTimeout  = 15 * time.Second
	defaultSessionTTL     = 24 * time.Hour
	defaultCountdown      = 10 * time.Second
	defaultEventRateLimit = 30
	defaultTopUpAmounts   = "10,20,30"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName             string
	AppEnv              string
	Port                string
	LogLevel            string
	LedgerURL           string
	LedgerTimeout       time.Duration
	DatabaseURL         string
	RedisURL            string
	AMQPURL             string
	SiteURL             string
	SessionTTL          time.Duration
	RepurchaseCountdown time.Duration
	TopUpAmounts        []money.Cents
	IdempotencyTTL      time.Duration
	EventRateLimit      int
	ShutdownPeriod      time.Duration
}

// Load reads an optional .env file, then configuration values from the
// environment. Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:     getEnv("APP_NAME", defaultAppName),
		AppEnv:      strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:        getEnv("PORT", defaultPort),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LedgerURL:   os.Getenv("LEDGER_URL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		AMQPURL:     os.Getenv("AMQP_URL"),
		SiteURL:     os.Getenv("SITE_URL"),
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"LEDGER_TIMEOUT", defaultLedgerTimeout, &cfg.LedgerTimeout},
		{"SESSION_TTL", defaultSessionTTL, &cfg.SessionTTL},
		{"REPURCHASE_COUNTDOWN", defaultCountdown, &cfg.RepurchaseCountdown},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"SHUTDOWN_TIMEOUT", defaultShutdownDelay, &cfg.ShutdownPeriod},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	cfg.EventRateLimit = defaultEventRateLimit
	if v := os.Getenv("EVENT_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid EVENT_RATE_LIMIT: %q", v)
		}
		cfg.EventRateLimit = n
	}

	amounts, err := parseAmounts(getEnv("TOPUP_AMOUNTS", defaultTopUpAmounts))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TOPUP_AMOUNTS: %w", err)
	}
	cfg.TopUpAmounts = amounts

	if cfg.LedgerURL == "" && !cfg.IsDevelopment() {
		return Config{}, fmt.Errorf("LEDGER_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}

	return cfg, nil
}

// IsDevelopment reports whether the in-memory ledger may stand in for the
// remote one.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration accepts either whole seconds ("15") or a Go duration ("15s").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseAmounts(raw string) ([]money.Cents, error) {
	var out []money.Cents
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		amount, err := money.Parse(part)
		if err != nil {
			return nil, err
		}
		if amount <= 0 {
			return nil, fmt.Errorf("amount %q must be positive", part)
		}
		out = append(out, amount)
	}
	if len(out) == 0 {
		return nil, errors.New("no amounts")
	}
	return out, nil
}
