package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result is the final output of an automation run.
type Result struct {
	Output string `json:"output"`
}

// Run is a started automation session. The session URL is available as soon
// as the run starts, before Wait resolves, so callers can surface a live view
// mid-flight.
type Run interface {
	SessionURL() string
	Wait(ctx context.Context) (Result, error)
}

// Runner starts browser-automation tasks from natural-language instructions.
type Runner interface {
	Start(ctx context.Context, instruction string) (Run, error)
}

// Config controls runner construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration
}

func New(cfg Config) (Runner, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPRunner(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewMockRunner(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("automation HTTP url is required for http mode")
		}
		return NewHTTPRunner(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockRunner(), nil
	default:
		return nil, fmt.Errorf("unsupported automation mode %q", cfg.Mode)
	}
}
