package pipeline

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/donna/internal/automation"
	"github.com/antoniostano/donna/internal/classify"
	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/idempotency"
	"github.com/antoniostano/donna/internal/observability"
)

// Recipient keyword lists for picking the shopping query from the event
// title.
var (
	femaleKeywords = []string{"niece", "daughter", "sister", "granddaughter", "mom", "mother", "wife", "aunt", "grandma", "girlfriend", "girl"}
	maleKeywords   = []string{"nephew", "son", "brother", "grandson", "dad", "father", "husband", "uncle", "grandpa", "boyfriend", "boy"}
	neutralKeywords = []string{"friend", "cousin", "colleague", "neighbor", "kid"}
)

const (
	queryFemale  = "girls dress"
	queryMale    = "boys outfit"
	queryNeutral = "kids party outfit"
)

var (
	cartURLPattern = regexp.MustCompile(`https?://[^\s"'<>]*cart[^\s"'<>]*`)
	anyURLPattern  = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// Birthday performs one shopping automation per birthday event and records
// the outcome as an additional task. Whatever happens, the event is marked
// processed: failures are terminal until an explicit reset.
type Birthday struct {
	classifier classify.Classifier
	runner     automation.Runner
	store      idempotency.Store
	feed       *Feed
	metrics    *observability.Metrics
}

func NewBirthday(classifier classify.Classifier, runner automation.Runner, store idempotency.Store, feed *Feed, metrics *observability.Metrics) *Birthday {
	return &Birthday{
		classifier: classifier,
		runner:     runner,
		store:      store,
		feed:       feed,
		metrics:    metrics,
	}
}

// Run advances the specialized stage for one event. It returns the stage's
// task (existing or freshly produced), or nil when the stage does not apply
// or another worker is already on it.
func (b *Birthday) Run(ctx context.Context, event events.Event) (*events.Task, error) {
	record, _, err := b.store.LoadRecord(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if record.SpecializedTask != nil {
		// Duplicate invocation is the expected outcome of the guard, not an
		// error.
		return record.SpecializedTask, nil
	}

	acquired, err := b.store.AcquireLock(ctx, event.ID, events.StageBirthday)
	if err != nil {
		return nil, fmt.Errorf("acquire birthday lock: %w", err)
	}
	if !acquired {
		return nil, nil
	}
	defer func() {
		if err := b.store.ReleaseLock(ctx, event.ID, events.StageBirthday); err != nil {
			log.Printf("birthday: release lock for %s: %v", event.ID, err)
		}
	}()

	// Re-check under the lock: a concurrent pass may have finished while we
	// were acquiring.
	record, _, err = b.store.LoadRecord(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("reload record: %w", err)
	}
	if record.SpecializedTask != nil {
		return record.SpecializedTask, nil
	}

	// Defense in depth: re-verify the classification even though planning
	// already filtered. The classifier client retries transient failures
	// itself, so an error here is terminal for the event, same as a failed
	// automation run.
	analysis, err := b.classifier.Classify(ctx, event)
	if err != nil {
		task, _, _ := newShoppingTask(event)
		return b.finish(ctx, event, task, "", fmt.Errorf("reclassify event %s: %w", event.ID, err), time.Now())
	}
	if analysis.EventType != classify.EventTypeBirthday {
		return nil, nil
	}

	task, recipient, query := newShoppingTask(event)
	// Surface the task before the external call resolves so the caller can
	// show progress immediately.
	b.feed.Publish(FeedEvent{
		Type:    FeedAutomationStarted,
		EventID: event.ID,
		TaskID:  task.ID,
		Status:  task.Status,
		Detail:  task.Title,
	})

	instruction := fmt.Sprintf(
		"Open an online store, search for %q, pick a well-reviewed option for the %s, and add it to the cart. Stop before checkout.",
		query, recipient,
	)

	started := time.Now()
	run, err := b.runner.Start(ctx, instruction)
	if err != nil {
		return b.finish(ctx, event, task, "", fmt.Errorf("start automation: %w", err), started)
	}

	if url := run.SessionURL(); url != "" {
		task.ExternalSessionURL = url
		b.feed.Publish(FeedEvent{
			Type:       FeedAutomationSession,
			EventID:    event.ID,
			TaskID:     task.ID,
			Status:     task.Status,
			SessionURL: url,
		})
	}

	result, err := run.Wait(ctx)
	if err != nil {
		return b.finish(ctx, event, task, "", err, started)
	}
	return b.finish(ctx, event, task, result.Output, nil, started)
}

// newShoppingTask synthesizes the specialized stage's shopping task for the
// event, in the executing state the automation run starts from.
func newShoppingTask(event events.Event) (task events.Task, recipient, query string) {
	recipient, query = SelectQuery(event.Title)
	now := time.Now().UTC()
	task = events.Task{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		OriginStage: events.StageBirthday,
		Category:    events.CategoryShopping,
		Title:       fmt.Sprintf("Shopping for %s", query),
		Description: fmt.Sprintf("Automated gift shopping for the %s.", recipient),
		Status:      events.StatusExecuting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return task, recipient, query
}

// finish settles the task as completed or issue, persists it, and marks the
// event processed. Failure and success both land here: the stage never
// retries on a later tick.
func (b *Birthday) finish(ctx context.Context, event events.Event, task events.Task, output string, runErr error, started time.Time) (*events.Task, error) {
	task.UpdatedAt = time.Now().UTC()
	if runErr != nil {
		task.Status = events.StatusIssue
		task.Detail = runErr.Error()
		b.metrics.ObserveAutomationRun("failed", time.Since(started))
		b.feed.Publish(FeedEvent{
			Type:    FeedAutomationFailed,
			EventID: event.ID,
			TaskID:  task.ID,
			Status:  task.Status,
			Detail:  task.Detail,
		})
	} else {
		task.Status = events.StatusCompleted
		if url := ExtractCartURL(output); url != "" {
			task.Detail = fmt.Sprintf("Cart ready for review: %s", url)
		} else {
			task.Detail = strings.TrimSpace(output)
		}
		b.metrics.ObserveAutomationRun("completed", time.Since(started))
		b.feed.Publish(FeedEvent{
			Type:    FeedAutomationCompleted,
			EventID: event.ID,
			TaskID:  task.ID,
			Status:  task.Status,
			Detail:  task.Detail,
		})
	}

	if err := b.store.SaveRecord(ctx, events.ProcessingRecord{
		EventID:         event.ID,
		EventTitle:      event.Title,
		SpecializedTask: &task,
	}); err != nil {
		return &task, fmt.Errorf("persist specialized task: %w", err)
	}
	if err := b.store.MarkProcessed(ctx, event.ID); err != nil {
		return &task, fmt.Errorf("mark processed: %w", err)
	}
	if runErr != nil {
		return &task, runErr
	}
	return &task, nil
}

// SelectQuery picks the shopping query from recipient keywords in the event
// title. Titles with no recognizable keyword fall back to the girls query;
// that default mirrors observed product behavior and is intentional.
func SelectQuery(title string) (recipient, query string) {
	lower := strings.ToLower(title)
	for _, kw := range femaleKeywords {
		if strings.Contains(lower, kw) {
			return kw, queryFemale
		}
	}
	for _, kw := range maleKeywords {
		if strings.Contains(lower, kw) {
			return kw, queryMale
		}
	}
	for _, kw := range neutralKeywords {
		if strings.Contains(lower, kw) {
			return kw, queryNeutral
		}
	}
	return "birthday person", queryFemale
}

// ExtractCartURL finds a cart link in automation output, preferring a
// cart-specific match and falling back to the first URL of any kind.
func ExtractCartURL(output string) string {
	if m := cartURLPattern.FindString(output); m != "" {
		return strings.TrimRight(m, ".,;:)")
	}
	if m := anyURLPattern.FindString(output); m != "" {
		return strings.TrimRight(m, ".,;:)")
	}
	return ""
}
