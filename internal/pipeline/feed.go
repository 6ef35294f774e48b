package pipeline

import (
	"sync"
	"time"

	"github.com/antoniostano/donna/internal/events"
)

type FeedEventType string

const (
	FeedPlanningStarted     FeedEventType = "planning_started"
	FeedPlanningCompleted   FeedEventType = "planning_completed"
	FeedPlanningSkipped     FeedEventType = "planning_skipped"
	FeedPlanningFailed      FeedEventType = "planning_failed"
	FeedAutomationStarted   FeedEventType = "automation_started"
	FeedAutomationSession   FeedEventType = "automation_session"
	FeedAutomationCompleted FeedEventType = "automation_completed"
	FeedAutomationFailed    FeedEventType = "automation_failed"
	FeedTaskUpdated         FeedEventType = "task_updated"
)

// FeedEvent is a progress notification emitted while the pipeline advances an
// event, so a UI can render planning/automation state live.
type FeedEvent struct {
	Type       FeedEventType `json:"type"`
	EventID    string        `json:"event_id"`
	TaskID     string        `json:"task_id,omitempty"`
	Status     events.Status `json:"status,omitempty"`
	SessionURL string        `json:"session_url,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	At         time.Time     `json:"at"`
}

// Feed fans pipeline events out to subscribers. Slow subscribers drop
// messages rather than stall the pipeline.
type Feed struct {
	mu          sync.Mutex
	subscribers map[int]chan FeedEvent
	nextID      int
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[int]chan FeedEvent)}
}

func (f *Feed) Subscribe() (<-chan FeedEvent, func()) {
	ch := make(chan FeedEvent, 64)
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subscribers[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(c)
		}
	}
}

func (f *Feed) Publish(evt FeedEvent) {
	if f == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
