package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/donna/internal/calendar"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/observability"
)

var metricsSeq atomic.Int64

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics(fmt.Sprintf("test_watcher_%d", metricsSeq.Add(1)))
}

func futureRaw(id, title string) calendar.RawEvent {
	return calendar.RawEvent{ID: id, Title: title, Start: time.Now().Add(48 * time.Hour)}
}

func TestTickReportsOnlyUnseenEvents(t *testing.T) {
	client := calendar.NewMockClient([]calendar.RawEvent{
		futureRaw("A", "Event A"),
		futureRaw("B", "Event B"),
	})
	w := New(client, time.Minute, testMetrics(t))

	first := w.Tick(context.Background())
	if len(first) != 2 {
		t.Fatalf("first tick reported %d events, want 2", len(first))
	}

	client.SetEvents([]calendar.RawEvent{
		futureRaw("A", "Event A"),
		futureRaw("B", "Event B"),
		futureRaw("C", "Event C"),
	})

	second := w.Tick(context.Background())
	if len(second) != 1 {
		t.Fatalf("second tick reported %d events, want exactly [C]", len(second))
	}
	if second[0].ID != "C" {
		t.Fatalf("second tick event id = %q, want C", second[0].ID)
	}

	// A third tick with no change reports nothing.
	if third := w.Tick(context.Background()); len(third) != 0 {
		t.Fatalf("third tick reported %d events, want 0", len(third))
	}
}

func TestTickFailureDoesNotStarveDetection(t *testing.T) {
	client := calendar.NewMockClient([]calendar.RawEvent{futureRaw("A", "Event A")})
	w := New(client, time.Minute, testMetrics(t))
	w.Tick(context.Background())

	client.SetEvents([]calendar.RawEvent{
		futureRaw("A", "Event A"),
		futureRaw("B", "Event B"),
	})
	client.SetError(errors.New("auth expired"))

	if got := w.Tick(context.Background()); got != nil {
		t.Fatalf("failed tick reported %d events, want none", len(got))
	}

	// The failed tick must not have consumed B.
	client.SetError(nil)
	got := w.Tick(context.Background())
	if len(got) != 1 || got[0].ID != "B" {
		t.Fatalf("recovery tick = %+v, want exactly [B]", got)
	}

	// And B is reported exactly once.
	if again := w.Tick(context.Background()); len(again) != 0 {
		t.Fatalf("post-recovery tick reported %d events, want 0", len(again))
	}
}

func TestTickDropsMalformedRecords(t *testing.T) {
	client := calendar.NewMockClient([]calendar.RawEvent{
		futureRaw("A", "Valid"),
		{ID: "B", Title: "", Start: time.Now().Add(time.Hour)},
		{ID: "C", Title: "No start"},
	})
	w := New(client, time.Minute, testMetrics(t))

	var delivered []events.Event
	w.SetOnNew(func(_ context.Context, evs []events.Event) {
		delivered = append(delivered, evs...)
	})

	got := w.Tick(context.Background())
	if len(got) != 1 || got[0].ID != "A" {
		t.Fatalf("tick = %+v, want only the valid event", got)
	}
	if len(delivered) != 1 || delivered[0].ID != "A" {
		t.Fatalf("callback delivered %+v, want only the valid event", delivered)
	}
}

func TestStartTicksImmediatelyAndStopIsIdempotent(t *testing.T) {
	client := calendar.NewMockClient([]calendar.RawEvent{futureRaw("A", "Event A")})
	w := New(client, time.Hour, testMetrics(t))

	seen := make(chan []events.Event, 1)
	w.SetOnNew(func(_ context.Context, evs []events.Event) {
		seen <- evs
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case evs := <-seen:
		if len(evs) != 1 {
			t.Fatalf("immediate tick delivered %d events, want 1", len(evs))
		}
	default:
		t.Fatalf("Start() did not tick immediately")
	}

	if client.FetchCount() != 1 {
		t.Fatalf("fetch count = %d after Start, want 1", client.FetchCount())
	}

	w.Stop()
	w.Stop()
}
