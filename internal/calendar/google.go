package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleClient reads events from the Google Calendar API with a stored OAuth
// token. The auth web flow happens out of band; this client only consumes the
// resulting token file.
type GoogleClient struct {
	service    *gcal.Service
	calendarID string
}

func NewGoogleClient(ctx context.Context, cfg Config) (*GoogleClient, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		Scopes:       []string{gcal.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	if oauthCfg.ClientID == "" || oauthCfg.ClientSecret == "" {
		return nil, fmt.Errorf("google calendar client id and secret are required")
	}

	token, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load google token: %w", err)
	}

	service, err := gcal.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	calendarID := strings.TrimSpace(cfg.CalendarID)
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleClient{service: service, calendarID: calendarID}, nil
}

func (c *GoogleClient) FetchEvents(ctx context.Context, from, to time.Time, limit int) ([]RawEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	call := c.service.Events.List(c.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		MaxResults(int64(limit)).
		OrderBy("startTime").
		Context(ctx)

	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	out := make([]RawEvent, 0, len(res.Items))
	for _, item := range res.Items {
		// All-day entries carry a date but no datetime; skip them, the
		// pipeline plans around concrete times.
		if item.Start == nil || item.Start.DateTime == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		var end time.Time
		if item.End != nil && item.End.DateTime != "" {
			end, _ = time.Parse(time.RFC3339, item.End.DateTime)
		}
		var attendees []string
		for _, a := range item.Attendees {
			attendees = append(attendees, a.Email)
		}
		out = append(out, RawEvent{
			ID:        item.Id,
			Title:     item.Summary,
			Start:     start,
			End:       end,
			Location:  item.Location,
			Attendees: attendees,
		})
	}
	return out, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	if strings.TrimSpace(path) == "" {
		path = "token.json"
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
