package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/idempotency"
	"github.com/antoniostano/donna/internal/observability"
)

var ErrTaskNotFound = errors.New("task not found")

// phase is where an event sits in the per-event pipeline, derived on demand
// from the idempotency store. The store is the only authority; nothing here
// caches "done" state between runs.
type phase int

const (
	phaseUnplanned phase = iota
	phaseSpecializedPending
	phaseDone
)

func phaseOf(record events.ProcessingRecord, found bool) phase {
	switch {
	case !found || !record.PlanningDone():
		return phaseUnplanned
	case record.SpecializedTask != nil:
		return phaseDone
	case record.PlanningStatus == events.PlanningCompleted && len(record.PlanningTasks) > 0:
		// Planning produced tasks, so the event is birthday-eligible and the
		// specialized stage still owes it a run.
		return phaseSpecializedPending
	default:
		return phaseDone
	}
}

// Orchestrator drives both pipeline stages across the current event set. A
// single mutex serializes runs, so the detector's timer and caller-triggered
// refreshes never race on the same event.
type Orchestrator struct {
	mu          sync.Mutex
	planner     *Planner
	birthday    *Birthday
	store       idempotency.Store
	feed        *Feed
	metrics     *observability.Metrics
	settleDelay time.Duration
}

func NewOrchestrator(planner *Planner, birthday *Birthday, store idempotency.Store, feed *Feed, metrics *observability.Metrics, settleDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		planner:     planner,
		birthday:    birthday,
		store:       store,
		feed:        feed,
		metrics:     metrics,
		settleDelay: settleDelay,
	}
}

func (o *Orchestrator) Feed() *Feed { return o.feed }

// Orchestrate advances every event through the pipeline and returns the
// merged view with tasks and statuses attached. Safe to call repeatedly with
// the same events; settled stages never re-run. A failure on one event is
// logged and the batch continues.
func (o *Orchestrator) Orchestrate(ctx context.Context, current []events.Event) []events.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.PipelinesInFlight.Set(float64(len(current)))
		defer o.metrics.PipelinesInFlight.Set(0)
	}

	// Planning pass.
	visited := make(map[string]struct{}, len(current))
	for _, ev := range current {
		if _, seen := visited[ev.ID]; seen {
			continue
		}
		visited[ev.ID] = struct{}{}

		record, found, err := o.store.LoadRecord(ctx, ev.ID)
		if err != nil {
			log.Printf("orchestrator: load record for %s: %v", ev.ID, err)
			continue
		}
		if phaseOf(record, found) != phaseUnplanned {
			continue
		}
		if _, err := o.planner.Plan(ctx, ev); err != nil {
			log.Printf("orchestrator: planning %s: %v", ev.ID, err)
		}
	}

	// Give dependent state a moment to propagate before the specialized
	// pass. Not needed for correctness, only for downstream consumers.
	if o.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return o.mergedViews(ctx, current)
		case <-time.After(o.settleDelay):
		}
	}

	// Specialized pass, phase re-derived from the store after planning.
	for _, ev := range current {
		record, found, err := o.store.LoadRecord(ctx, ev.ID)
		if err != nil {
			log.Printf("orchestrator: load record for %s: %v", ev.ID, err)
			continue
		}
		if phaseOf(record, found) != phaseSpecializedPending {
			continue
		}
		if _, err := o.birthday.Run(ctx, ev); err != nil {
			log.Printf("orchestrator: birthday stage %s: %v", ev.ID, err)
		}
	}

	return o.mergedViews(ctx, current)
}

// mergedViews rehydrates each event from the store: planner tasks first, then
// the specialized task.
func (o *Orchestrator) mergedViews(ctx context.Context, current []events.Event) []events.Event {
	records, err := o.store.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("orchestrator: load records: %v", err)
		records = map[string]events.ProcessingRecord{}
	}

	out := make([]events.Event, 0, len(current))
	for _, ev := range current {
		view := ev.Clone()
		if record, ok := records[ev.ID]; ok {
			tasks := make([]events.Task, 0, len(record.PlanningTasks)+1)
			tasks = append(tasks, record.PlanningTasks...)
			if record.SpecializedTask != nil {
				tasks = append(tasks, *record.SpecializedTask)
			}
			if len(tasks) > 0 {
				view.Tasks = tasks
			}
		}
		out = append(out, view)
	}
	return out
}

// UpdateTaskStatus applies a caller-driven status change, enforcing the task
// state machine, and persists the result.
func (o *Orchestrator) UpdateTaskStatus(ctx context.Context, eventID, taskID string, newStatus events.Status) (events.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	record, found, err := o.store.LoadRecord(ctx, eventID)
	if err != nil {
		return events.Task{}, fmt.Errorf("load record: %w", err)
	}
	if !found {
		return events.Task{}, ErrTaskNotFound
	}

	var updated *events.Task
	for i := range record.PlanningTasks {
		if record.PlanningTasks[i].ID == taskID {
			if err := record.PlanningTasks[i].Transition(newStatus); err != nil {
				return events.Task{}, err
			}
			updated = &record.PlanningTasks[i]
			break
		}
	}
	if updated == nil && record.SpecializedTask != nil && record.SpecializedTask.ID == taskID {
		if err := record.SpecializedTask.Transition(newStatus); err != nil {
			return events.Task{}, err
		}
		updated = record.SpecializedTask
	}
	if updated == nil {
		return events.Task{}, ErrTaskNotFound
	}

	if err := o.store.SaveRecord(ctx, record); err != nil {
		return events.Task{}, fmt.Errorf("persist task status: %w", err)
	}
	if o.metrics != nil {
		o.metrics.ObserveTaskTransition(string(newStatus))
	}
	o.feed.Publish(FeedEvent{
		Type:    FeedTaskUpdated,
		EventID: eventID,
		TaskID:  taskID,
		Status:  newStatus,
	})
	return *updated, nil
}

// ResetEvent clears everything the pipeline knows about the event so both
// stages run again on the next pass. The only sanctioned retry path for
// terminal failures.
func (o *Orchestrator) ResetEvent(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.ResetEvent(ctx, eventID)
}
