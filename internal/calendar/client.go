package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RawEvent is an event record as returned by a calendar provider, before the
// pipeline validates and converts it.
type RawEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Location  string    `json:"location,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
}

// Client fetches raw event records from an external calendar.
type Client interface {
	FetchEvents(ctx context.Context, from, to time.Time, limit int) ([]RawEvent, error)
}

// Config controls client construction.
type Config struct {
	Mode         string
	ClientID     string
	ClientSecret string
	CalendarID   string
	TokenFile    string
}

func New(ctx context.Context, cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.ClientID) != "" && strings.TrimSpace(cfg.ClientSecret) != "" {
			c, err := NewGoogleClient(ctx, cfg)
			if err == nil {
				return c, nil
			}
			// Credentials present but unusable is worth surfacing; auto mode
			// still degrades to the mock so the rest of the service comes up.
		}
		return NewMockClient(nil), nil
	case "google":
		return NewGoogleClient(ctx, cfg)
	case "mock":
		return NewMockClient(nil), nil
	default:
		return nil, fmt.Errorf("unsupported calendar provider %q", cfg.Mode)
	}
}

var ErrFetchFailed = errors.New("calendar fetch failed")
