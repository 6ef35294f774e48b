package calendar

import (
	"context"
	"sync"
	"time"
)

// MockClient serves a configurable in-memory event set. It backs auto mode
// when no real provider is configured, and the watcher/pipeline tests.
type MockClient struct {
	mu     sync.Mutex
	events []RawEvent
	err    error
	calls  int
}

func NewMockClient(events []RawEvent) *MockClient {
	return &MockClient{events: events}
}

func (c *MockClient) FetchEvents(ctx context.Context, from, to time.Time, limit int) ([]RawEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]RawEvent, 0, len(c.events))
	for _, ev := range c.events {
		if limit > 0 && len(out) >= limit {
			break
		}
		if ev.Start.IsZero() || ev.Start.Before(from) || ev.Start.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// SetEvents replaces the served event set.
func (c *MockClient) SetEvents(events []RawEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append([]RawEvent(nil), events...)
}

// SetError makes subsequent fetches fail until cleared with nil.
func (c *MockClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *MockClient) FetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
