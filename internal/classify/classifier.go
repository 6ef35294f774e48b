package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/donna/internal/events"
)

const (
	EventTypeBirthday = "birthday"
	EventTypeOther    = "other"
)

// Analysis is the structured result of classifying an event.
type Analysis struct {
	EventType       string   `json:"event_type"`
	Context         string   `json:"context,omitempty"`
	RequiredActions []string `json:"required_actions,omitempty"`
	MissingInfo     []string `json:"missing_info,omitempty"`
}

// Classifier delegates event classification to a language-model backend.
type Classifier interface {
	Classify(ctx context.Context, event events.Event) (Analysis, error)
}

// Config controls classifier construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func New(cfg Config) (Classifier, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPClassifier(cfg.HTTPURL), nil
		}
		return NewMockClassifier(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("classifier HTTP url is required for http mode")
		}
		return NewHTTPClassifier(cfg.HTTPURL), nil
	case "mock":
		return NewMockClassifier(), nil
	default:
		return nil, fmt.Errorf("unsupported classifier mode %q", cfg.Mode)
	}
}
