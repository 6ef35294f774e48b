package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the event pipeline service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// DataDir holds the file-backed idempotency documents when no
	// DATABASE_URL is configured.
	DataDir     string
	DatabaseURL string

	PollInterval  time.Duration
	SettleDelay   time.Duration
	LookaheadDays int

	CalendarProvider string
	GoogleClientID   string
	GoogleSecret     string
	GoogleCalendarID string
	GoogleTokenFile  string

	ClassifierMode    string
	ClassifierHTTPURL string

	AutomationMode    string
	AutomationHTTPURL string
	AutomationTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "donna"),
		AllowAnyOrigin:    false,
		DataDir:           envOrDefault("APP_DATA_DIR", "data"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		CalendarProvider:  envOrDefault("CALENDAR_PROVIDER", "auto"),
		GoogleClientID:    stringsTrimSpace("GOOGLE_CLIENT_ID"),
		GoogleSecret:      stringsTrimSpace("GOOGLE_CLIENT_SECRET"),
		GoogleCalendarID:  envOrDefault("GOOGLE_CALENDAR_ID", "primary"),
		GoogleTokenFile:   envOrDefault("GOOGLE_TOKEN_FILE", "token.json"),
		ClassifierMode:    envOrDefault("CLASSIFIER_MODE", "auto"),
		ClassifierHTTPURL: stringsTrimSpace("CLASSIFIER_HTTP_URL"),
		AutomationMode:    envOrDefault("AUTOMATION_MODE", "auto"),
		AutomationHTTPURL: stringsTrimSpace("AUTOMATION_HTTP_URL"),
		ShutdownTimeout:   15 * time.Second,
		PollInterval:      5 * time.Minute,
		SettleDelay:       2 * time.Second,
		AutomationTimeout: 15 * time.Second,
		LookaheadDays:     30,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("APP_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SettleDelay, err = durationFromEnv("APP_SETTLE_DELAY", cfg.SettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.AutomationTimeout, err = durationFromEnv("AUTOMATION_TIMEOUT", cfg.AutomationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LookaheadDays, err = intFromEnv("CALENDAR_LOOKAHEAD_DAYS", cfg.LookaheadDays)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.PollInterval < time.Second {
		return Config{}, fmt.Errorf("APP_POLL_INTERVAL must be at least 1s")
	}
	if cfg.SettleDelay < 0 {
		return Config{}, fmt.Errorf("APP_SETTLE_DELAY must not be negative")
	}
	if cfg.AutomationTimeout <= 0 {
		return Config{}, fmt.Errorf("AUTOMATION_TIMEOUT must be positive")
	}
	if cfg.LookaheadDays <= 0 {
		return Config{}, fmt.Errorf("CALENDAR_LOOKAHEAD_DAYS must be positive")
	}
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("APP_DATA_DIR must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
