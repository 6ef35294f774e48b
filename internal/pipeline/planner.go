package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/donna/internal/classify"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/idempotency"
	"github.com/antoniostano/donna/internal/observability"
)

type Outcome string

const (
	OutcomePlanned        Outcome = "planned"
	OutcomeAlreadyPlanned Outcome = "already_planned"
	OutcomeSkipped        Outcome = "skipped"
)

// PlanResult is the planning stage's verdict for one event.
type PlanResult struct {
	Outcome Outcome
	Reason  string
	Tasks   []events.Task
}

// Planner classifies an event and, when eligible, derives its initial task
// set exactly once. Outcomes are settled into the idempotency store so the
// stage never reconsiders an event without an explicit reset.
type Planner struct {
	classifier classify.Classifier
	store      idempotency.Store
	feed       *Feed
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewPlanner(classifier classify.Classifier, store idempotency.Store, feed *Feed, metrics *observability.Metrics) *Planner {
	return &Planner{
		classifier: classifier,
		store:      store,
		feed:       feed,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Plan runs the planning stage for one event. The returned error reports a
// classification or store failure; the result is valid either way.
func (p *Planner) Plan(ctx context.Context, event events.Event) (PlanResult, error) {
	// An event that already carries tasks is never touched again.
	if len(event.Tasks) > 0 {
		p.metrics.ObservePlanOutcome(string(OutcomeAlreadyPlanned))
		return PlanResult{Outcome: OutcomeAlreadyPlanned, Tasks: event.Tasks}, nil
	}

	record, found, err := p.store.LoadRecord(ctx, event.ID)
	if err != nil {
		return PlanResult{Outcome: OutcomeSkipped, Reason: "error"}, fmt.Errorf("load record: %w", err)
	}
	if found && record.PlanningDone() {
		if len(record.PlanningTasks) > 0 {
			p.metrics.ObservePlanOutcome(string(OutcomeAlreadyPlanned))
			return PlanResult{Outcome: OutcomeAlreadyPlanned, Tasks: record.PlanningTasks}, nil
		}
		p.metrics.ObservePlanOutcome(string(OutcomeSkipped))
		return PlanResult{Outcome: OutcomeSkipped, Reason: "already planned"}, nil
	}

	acquired, err := p.store.AcquireLock(ctx, event.ID, events.StagePlanner)
	if err != nil {
		return PlanResult{Outcome: OutcomeSkipped, Reason: "error"}, fmt.Errorf("acquire planner lock: %w", err)
	}
	if !acquired {
		return PlanResult{Outcome: OutcomeSkipped, Reason: "planning in flight"}, nil
	}
	defer func() {
		if err := p.store.ReleaseLock(ctx, event.ID, events.StagePlanner); err != nil {
			log.Printf("planner: release lock for %s: %v", event.ID, err)
		}
	}()

	if event.ScheduledAt.Before(p.now()) {
		return p.settle(ctx, event, PlanResult{Outcome: OutcomeSkipped, Reason: "past event"}, events.PlanningCompleted)
	}

	p.feed.Publish(FeedEvent{Type: FeedPlanningStarted, EventID: event.ID})
	if err := p.store.SaveRecord(ctx, events.ProcessingRecord{
		EventID:        event.ID,
		EventTitle:     event.Title,
		PlanningStatus: events.PlanningRunning,
	}); err != nil {
		return PlanResult{Outcome: OutcomeSkipped, Reason: "error"}, fmt.Errorf("save record: %w", err)
	}

	analysis, err := p.classifier.Classify(ctx, event)
	if err != nil {
		result, saveErr := p.settle(ctx, event, PlanResult{Outcome: OutcomeSkipped, Reason: "error"}, events.PlanningError)
		if saveErr != nil {
			return result, saveErr
		}
		p.feed.Publish(FeedEvent{Type: FeedPlanningFailed, EventID: event.ID, Detail: err.Error()})
		return result, fmt.Errorf("classify event %s: %w", event.ID, err)
	}

	if analysis.EventType != classify.EventTypeBirthday {
		return p.settle(ctx, event, PlanResult{Outcome: OutcomeSkipped, Reason: "not birthday"}, events.PlanningCompleted)
	}

	tasks := p.birthdayTasks(event)
	result, saveErr := p.settle(ctx, event, PlanResult{Outcome: OutcomePlanned, Tasks: tasks}, events.PlanningCompleted)
	if saveErr != nil {
		return result, saveErr
	}
	p.feed.Publish(FeedEvent{
		Type:    FeedPlanningCompleted,
		EventID: event.ID,
		Detail:  fmt.Sprintf("Planned %d task(s).", len(tasks)),
	})
	return result, nil
}

// settle persists the stage's final verdict for the event so it is never
// reconsidered, then returns the result.
func (p *Planner) settle(ctx context.Context, event events.Event, result PlanResult, status events.PlanningStatus) (PlanResult, error) {
	record := events.ProcessingRecord{
		EventID:        event.ID,
		EventTitle:     event.Title,
		PlanningStatus: status,
	}
	if result.Outcome == OutcomePlanned {
		record.PlanningTasks = result.Tasks
	}
	if err := p.store.SaveRecord(ctx, record); err != nil {
		return result, fmt.Errorf("persist plan result: %w", err)
	}
	p.metrics.ObservePlanOutcome(string(result.Outcome))
	if result.Outcome == OutcomeSkipped && result.Reason != "error" {
		p.feed.Publish(FeedEvent{Type: FeedPlanningSkipped, EventID: event.ID, Detail: result.Reason})
	}
	return result, nil
}

// birthdayTasks is the fixed template set for birthday events. Shopping and
// booking wait for user approval; the communication task does not.
func (p *Planner) birthdayTasks(event events.Event) []events.Task {
	now := p.now()
	newTask := func(category events.Category, title, description string, needsApproval bool) events.Task {
		return events.Task{
			ID:            uuid.NewString(),
			EventID:       event.ID,
			OriginStage:   events.StagePlanner,
			Category:      category,
			Title:         title,
			Description:   description,
			Status:        events.StatusSuggested,
			NeedsApproval: needsApproval,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return []events.Task{
		newTask(events.CategoryShopping, "Buy a birthday gift",
			fmt.Sprintf("Pick out and order a gift before %q.", event.Title), true),
		newTask(events.CategoryBooking, "Book a venue or restaurant",
			"Reserve a table or party venue for the celebration.", true),
		newTask(events.CategoryCommunication, "Send invitations",
			"Let the guests know the time and place, and collect RSVPs.", false),
	}
}
