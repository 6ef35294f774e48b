package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/antoniostano/donna/internal/calendar"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/observability"
)

const (
	defaultPollInterval = 5 * time.Minute
	defaultLookahead    = 30 * 24 * time.Hour
	defaultFetchLimit   = 50
)

// OnNewFunc receives exactly the events that were not present on the previous
// tick.
type OnNewFunc func(ctx context.Context, newEvents []events.Event)

// Watcher polls the calendar on a fixed interval and reports only the events
// it has not seen before. The seen-ID set lives in memory on purpose: after a
// restart every visible event is reported as new once, and the idempotency
// store downstream absorbs the replay.
type Watcher struct {
	client    calendar.Client
	interval  time.Duration
	lookahead time.Duration
	limit     int
	onNew     OnNewFunc
	metrics   *observability.Metrics

	mu       sync.Mutex
	lastSeen map[string]struct{}

	runMu    sync.Mutex
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
}

func New(client calendar.Client, interval time.Duration, metrics *observability.Metrics) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		client:    client,
		interval:  interval,
		lookahead: defaultLookahead,
		limit:     defaultFetchLimit,
		metrics:   metrics,
		lastSeen:  make(map[string]struct{}),
	}
}

// SetOnNew registers the new-event callback. Must be called before Start.
func (w *Watcher) SetOnNew(fn OnNewFunc) {
	w.onNew = fn
}

// SetLookahead overrides how far ahead of now the calendar is queried.
func (w *Watcher) SetLookahead(d time.Duration) {
	if d > 0 {
		w.lookahead = d
	}
}

// Start performs one immediate tick, then arms the interval timer. It returns
// after the first tick completes.
func (w *Watcher) Start(ctx context.Context) {
	w.runMu.Lock()
	if w.stopCh != nil {
		w.runMu.Unlock()
		return
	}
	w.stopCh = make(chan struct{})
	w.stopOnce = &sync.Once{}
	w.done = make(chan struct{})
	stopCh := w.stopCh
	w.runMu.Unlock()

	w.Tick(ctx)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the pending timer. Safe to call repeatedly; an in-progress
// tick is allowed to finish.
func (w *Watcher) Stop() {
	w.runMu.Lock()
	stopOnce, stopCh, done := w.stopOnce, w.stopCh, w.done
	w.runMu.Unlock()
	if stopOnce == nil {
		return
	}
	stopOnce.Do(func() { close(stopCh) })
	if done != nil {
		<-done
	}
}

// Tick runs one detection cycle and returns the newly observed events. Ticks
// are serialized: a timer tick and an on-demand tick never interleave.
func (w *Watcher) Tick(ctx context.Context) []events.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	raw, err := w.client.FetchEvents(ctx, now.Add(-24*time.Hour), now.Add(w.lookahead), w.limit)
	if err != nil {
		// Skip the tick and keep lastSeen untouched: the next successful
		// fetch still detects the same events as new.
		log.Printf("watcher: fetch failed, skipping tick: %v", err)
		w.metrics.ObserveTick("fetch_error")
		return nil
	}

	currentIDs := make(map[string]struct{}, len(raw))
	var fresh []calendar.RawEvent
	for _, r := range raw {
		if r.ID == "" {
			continue
		}
		currentIDs[r.ID] = struct{}{}
		if _, seen := w.lastSeen[r.ID]; !seen {
			fresh = append(fresh, r)
		}
	}

	if len(fresh) == 0 {
		w.metrics.ObserveTick("no_change")
		return nil
	}

	newEvents := convert(fresh)
	if len(newEvents) > 0 && w.onNew != nil {
		w.onNew(ctx, newEvents)
	}

	// lastSeen moves forward only after the callback was dispatched, so a
	// failure between detection and dispatch cannot lose events.
	w.lastSeen = currentIDs

	w.metrics.ObserveTick("new_events")
	if w.metrics != nil {
		w.metrics.NewEventsDetected.Add(float64(len(newEvents)))
	}
	log.Printf("watcher: detected %d new event(s)", len(newEvents))
	return newEvents
}

// Snapshot fetches the current event window without advancing the seen set.
// The read path uses it to rebuild the full event list on demand.
func (w *Watcher) Snapshot(ctx context.Context) ([]events.Event, error) {
	now := time.Now().UTC()
	raw, err := w.client.FetchEvents(ctx, now.Add(-24*time.Hour), now.Add(w.lookahead), w.limit)
	if err != nil {
		return nil, err
	}
	return convert(raw), nil
}

// convert turns raw records into pipeline events, silently dropping records
// that lack a usable id, title, or start time.
func convert(raw []calendar.RawEvent) []events.Event {
	out := make([]events.Event, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" || r.Title == "" || r.Start.IsZero() {
			continue
		}
		out = append(out, events.Event{
			ID:           r.ID,
			Title:        r.Title,
			ScheduledAt:  r.Start,
			Location:     r.Location,
			Participants: append([]string(nil), r.Attendees...),
			Tasks:        []events.Task{},
		})
	}
	return out
}
