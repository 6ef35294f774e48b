package classify

import (
	"context"
	"strings"
	"sync"

	"github.com/antoniostano/donna/internal/events"
)

// MockClassifier classifies by title keyword. It backs auto mode when no
// language-model endpoint is configured, and the pipeline tests.
type MockClassifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func NewMockClassifier() *MockClassifier { return &MockClassifier{} }

func (c *MockClassifier) Classify(ctx context.Context, event events.Event) (Analysis, error) {
	select {
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	default:
	}

	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return Analysis{}, err
	}

	if strings.Contains(strings.ToLower(event.Title), "birthday") {
		return Analysis{
			EventType:       EventTypeBirthday,
			Context:         "Birthday celebration detected from the event title.",
			RequiredActions: []string{"buy a gift", "arrange venue", "invite guests"},
		}, nil
	}
	return Analysis{EventType: EventTypeOther}, nil
}

// SetError makes subsequent classifications fail until cleared with nil.
func (c *MockClassifier) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *MockClassifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
