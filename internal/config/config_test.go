package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PollInterval != 5*time.Minute {
		t.Fatalf("PollInterval = %v, want 5m default", cfg.PollInterval)
	}
	if cfg.AutomationMode != "auto" {
		t.Fatalf("AutomationMode = %q, want %q", cfg.AutomationMode, "auto")
	}
	if cfg.AutomationHTTPURL != "" {
		t.Fatalf("AutomationHTTPURL = %q, want empty default", cfg.AutomationHTTPURL)
	}
	if cfg.GoogleCalendarID != "primary" {
		t.Fatalf("GoogleCalendarID = %q, want %q", cfg.GoogleCalendarID, "primary")
	}
	if cfg.DataDir != "data" {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, "data")
	}
}

func TestLoadUsesExplicitAutomationHTTPURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("AUTOMATION_HTTP_URL", "http://localhost:7777/custom")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AutomationHTTPURL != "http://localhost:7777/custom" {
		t.Fatalf("AutomationHTTPURL = %q, want explicit value", cfg.AutomationHTTPURL)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_POLL_INTERVAL", "30s")
	t.Setenv("AUTOMATION_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.AutomationTimeout != 45*time.Second {
		t.Fatalf("AutomationTimeout = %v, want 45s", cfg.AutomationTimeout)
	}
}

func TestLoadRejectsSubSecondPollInterval(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_POLL_INTERVAL", "100ms")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a sub-second poll interval")
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a malformed bool")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DATA_DIR",
		"APP_POLL_INTERVAL",
		"APP_SETTLE_DELAY",
		"DATABASE_URL",
		"CALENDAR_PROVIDER",
		"CALENDAR_LOOKAHEAD_DAYS",
		"GOOGLE_CLIENT_ID",
		"GOOGLE_CLIENT_SECRET",
		"GOOGLE_CALENDAR_ID",
		"GOOGLE_TOKEN_FILE",
		"CLASSIFIER_MODE",
		"CLASSIFIER_HTTP_URL",
		"AUTOMATION_MODE",
		"AUTOMATION_HTTP_URL",
		"AUTOMATION_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
