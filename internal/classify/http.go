package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/reliability"
)

const (
	maxAttempts = 3
	backoffBase = 200 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// HTTPClassifier forwards events to a language-model endpoint that replies
// with a JSON analysis.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPClassifier(url string) *HTTPClassifier {
	return &HTTPClassifier{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type classifyRequest struct {
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Location    string    `json:"location,omitempty"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, event events.Event) (Analysis, error) {
	payload, err := json.Marshal(classifyRequest{
		EventID:     event.ID,
		Title:       event.Title,
		ScheduledAt: event.ScheduledAt,
		Location:    event.Location,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal request: %w", err)
	}

	// Transient upstream trouble is retried here; the caller treats whatever
	// error survives as terminal for the event.
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := reliability.Sleep(ctx, attempt-1, backoffBase, backoffCap); err != nil {
				return Analysis{}, err
			}
		}

		analysis, retryable, err := c.classifyOnce(ctx, payload)
		if err == nil {
			return analysis, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Analysis{}, lastErr
}

func (c *HTTPClassifier) classifyOnce(ctx context.Context, payload []byte) (Analysis, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Analysis{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Analysis{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("classifier http status %d: %s", res.StatusCode, string(body))
		return Analysis{}, reliability.IsRetryableHTTPStatus(res.StatusCode), err
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Analysis{}, true, fmt.Errorf("read response: %w", err)
	}

	analysis, err := parseAnalysis(body)
	if err != nil {
		return Analysis{}, false, err
	}
	return analysis, false, nil
}

// parseAnalysis decodes the reply, tolerating model output that wraps the
// JSON object in prose by falling back to the first {...} block.
func parseAnalysis(body []byte) (Analysis, error) {
	var analysis Analysis
	if err := json.Unmarshal(body, &analysis); err == nil && analysis.EventType != "" {
		return normalize(analysis), nil
	}

	text := string(body)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("classifier reply contains no JSON object")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode classifier reply: %w", err)
	}
	if analysis.EventType == "" {
		return Analysis{}, fmt.Errorf("classifier reply missing event_type")
	}
	return normalize(analysis), nil
}

func normalize(a Analysis) Analysis {
	a.EventType = strings.ToLower(strings.TrimSpace(a.EventType))
	return a
}
