package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/donna/internal/automation"
	"github.com/antoniostano/donna/internal/calendar"
	"github.com/antoniostano/donna/internal/classify"
	"github.com/antoniostano/donna/internal/config"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/idempotency"
	"github.com/antoniostano/donna/internal/observability"
	"github.com/antoniostano/donna/internal/pipeline"
	"github.com/antoniostano/donna/internal/watcher"
)

var metricsSeq atomic.Int64

func testServer(t *testing.T, raw []calendar.RawEvent) (*httptest.Server, *pipeline.Orchestrator) {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	store, err := idempotency.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	feed := pipeline.NewFeed()
	classifier := classify.NewMockClassifier()
	runner := automation.NewMockRunner()
	planner := pipeline.NewPlanner(classifier, store, feed, metrics)
	birthday := pipeline.NewBirthday(classifier, runner, store, feed, metrics)
	orch := pipeline.NewOrchestrator(planner, birthday, store, feed, metrics, 0)

	client := calendar.NewMockClient(raw)
	w := watcher.New(client, time.Minute, metrics)

	srv := New(config.Config{CalendarProvider: "mock"}, w, orch, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, orch
}

func birthdayRaw(id string) []calendar.RawEvent {
	return []calendar.RawEvent{{
		ID:    id,
		Title: "Niece's Birthday Party",
		Start: time.Now().Add(48 * time.Hour),
	}}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := testServer(t, nil)

	var health map[string]any
	if resp := getJSON(t, ts.URL+"/healthz", &health); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if health["status"] != "ok" {
		t.Fatalf("healthz body = %v", health)
	}

	var ready map[string]any
	if resp := getJSON(t, ts.URL+"/readyz", &ready); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
	if ready["provider"] != "mock" {
		t.Fatalf("readyz body = %v", ready)
	}
}

func TestDetectReportsNewEvents(t *testing.T) {
	ts, _ := testServer(t, birthdayRaw("e1"))

	var first detectResponse
	postJSON(t, ts.URL+"/v1/events/detect", nil, &first)
	if first.Count != 1 || len(first.NewEvents) != 1 || first.NewEvents[0].ID != "e1" {
		t.Fatalf("first detect = %+v, want one new event e1", first)
	}

	var second detectResponse
	postJSON(t, ts.URL+"/v1/events/detect", nil, &second)
	if second.Count != 0 {
		t.Fatalf("second detect = %+v, want no new events", second)
	}
}

func TestListEventsAttachesTasks(t *testing.T) {
	ts, _ := testServer(t, birthdayRaw("e1"))

	var list eventsResponse
	if resp := getJSON(t, ts.URL+"/v1/events", &list); resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if len(list.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(list.Events))
	}
	if len(list.Events[0].Tasks) != 4 {
		t.Fatalf("got %d tasks, want 4: %+v", len(list.Events[0].Tasks), list.Events[0].Tasks)
	}
}

func TestListEventsCalendarFailure(t *testing.T) {
	client := calendar.NewMockClient(nil)
	client.SetError(fmt.Errorf("calendar down"))
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	store, err := idempotency.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	feed := pipeline.NewFeed()
	classifier := classify.NewMockClassifier()
	planner := pipeline.NewPlanner(classifier, store, feed, metrics)
	birthday := pipeline.NewBirthday(classifier, automation.NewMockRunner(), store, feed, metrics)
	orch := pipeline.NewOrchestrator(planner, birthday, store, feed, metrics, 0)
	srv := New(config.Config{}, watcher.New(client, time.Minute, metrics), orch, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	resp := getJSON(t, ts.URL+"/v1/events", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("list status = %d, want 502", resp.StatusCode)
	}
}

func TestOrchestrateUsesSuppliedEvents(t *testing.T) {
	// Empty calendar: any tasks must come from the supplied list alone.
	ts, _ := testServer(t, nil)

	body := map[string]any{
		"events": []events.Event{{
			ID:          "supplied-1",
			Title:       "Niece's Birthday Party",
			ScheduledAt: time.Now().Add(48 * time.Hour),
		}},
	}
	var views eventsResponse
	if resp := postJSON(t, ts.URL+"/v1/events/orchestrate", body, &views); resp.StatusCode != http.StatusOK {
		t.Fatalf("orchestrate status = %d", resp.StatusCode)
	}
	if len(views.Events) != 1 || views.Events[0].ID != "supplied-1" {
		t.Fatalf("views = %+v, want the supplied event", views.Events)
	}
	if len(views.Events[0].Tasks) != 4 {
		t.Fatalf("got %d tasks for the supplied event, want 4: %+v", len(views.Events[0].Tasks), views.Events[0].Tasks)
	}
}

func TestOrchestrateEmptyBodyFallsBackToSnapshot(t *testing.T) {
	ts, _ := testServer(t, birthdayRaw("e1"))

	var views eventsResponse
	if resp := postJSON(t, ts.URL+"/v1/events/orchestrate", nil, &views); resp.StatusCode != http.StatusOK {
		t.Fatalf("orchestrate status = %d", resp.StatusCode)
	}
	if len(views.Events) != 1 || views.Events[0].ID != "e1" {
		t.Fatalf("views = %+v, want the snapshot event", views.Events)
	}
	if len(views.Events[0].Tasks) != 4 {
		t.Fatalf("got %d tasks, want 4", len(views.Events[0].Tasks))
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	ts, _ := testServer(t, birthdayRaw("e1"))

	var list eventsResponse
	getJSON(t, ts.URL+"/v1/events", &list)
	var suggested events.Task
	for _, task := range list.Events[0].Tasks {
		if task.Status == events.StatusSuggested && task.NeedsApproval {
			suggested = task
			break
		}
	}
	if suggested.ID == "" {
		t.Fatalf("no suggested task in %+v", list.Events[0].Tasks)
	}

	statusURL := fmt.Sprintf("%s/v1/events/e1/tasks/%s/status", ts.URL, suggested.ID)

	var updated events.Task
	if resp := postJSON(t, statusURL, taskStatusRequest{Status: "approved"}, &updated); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	if updated.Status != events.StatusApproved {
		t.Fatalf("task status = %q, want approved", updated.Status)
	}

	if resp := postJSON(t, statusURL, taskStatusRequest{Status: "suggested"}, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("backward transition status = %d, want 409", resp.StatusCode)
	}
	if resp := postJSON(t, statusURL, taskStatusRequest{Status: "bogus"}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown status = %d, want 400", resp.StatusCode)
	}
	missing := fmt.Sprintf("%s/v1/events/e1/tasks/%s/status", ts.URL, "nope")
	if resp := postJSON(t, missing, taskStatusRequest{Status: "approved"}, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task status = %d, want 404", resp.StatusCode)
	}
}

func TestResetReopensEvent(t *testing.T) {
	ts, _ := testServer(t, birthdayRaw("e1"))

	var before eventsResponse
	getJSON(t, ts.URL+"/v1/events", &before)
	if len(before.Events[0].Tasks) != 4 {
		t.Fatalf("setup: got %d tasks, want 4", len(before.Events[0].Tasks))
	}

	if resp := postJSON(t, ts.URL+"/v1/events/e1/reset", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}

	var after eventsResponse
	getJSON(t, ts.URL+"/v1/events", &after)
	if len(after.Events[0].Tasks) != 4 {
		t.Fatalf("after reset: got %d tasks, want a fresh set of 4", len(after.Events[0].Tasks))
	}
	for _, task := range after.Events[0].Tasks {
		for _, old := range before.Events[0].Tasks {
			if task.ID == old.ID {
				t.Fatalf("task %s survived the reset", task.ID)
			}
		}
	}
}

func TestPipelineWSStreamsFeed(t *testing.T) {
	ts, orch := testServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/pipeline/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	orch.Feed().Publish(pipeline.FeedEvent{
		Type:    pipeline.FeedPlanningStarted,
		EventID: "e1",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got pipeline.FeedEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read feed event: %v", err)
	}
	if got.Type != pipeline.FeedPlanningStarted || got.EventID != "e1" {
		t.Fatalf("feed event = %+v", got)
	}
}
