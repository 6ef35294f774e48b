package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/donna/internal/automation"
	"github.com/antoniostano/donna/internal/classify"
	"github.com/antoniostano/donna/internal/events"
)

func TestSelectQuery(t *testing.T) {
	cases := []struct {
		title     string
		wantQuery string
	}{
		{"Niece's Birthday Party", "girls dress"},
		{"Nephew's Birthday", "boys outfit"},
		{"Grandson turns 5", "boys outfit"},
		{"Friend's birthday dinner", "kids party outfit"},
		{"Birthday Party", "girls dress"}, // documented default
	}
	for _, tc := range cases {
		if _, got := SelectQuery(tc.title); got != tc.wantQuery {
			t.Errorf("SelectQuery(%q) = %q, want %q", tc.title, got, tc.wantQuery)
		}
	}
}

func TestExtractCartURL(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{"Review at https://shop.example.com/cart/abc123 before checkout.", "https://shop.example.com/cart/abc123"},
		{"Done, see https://shop.example.com/orders/1.", "https://shop.example.com/orders/1"},
		{"No links here.", ""},
	}
	for _, tc := range cases {
		if got := ExtractCartURL(tc.output); got != tc.want {
			t.Errorf("ExtractCartURL(%q) = %q, want %q", tc.output, got, tc.want)
		}
	}
}

func TestBirthdayRunCompletesTaskWithSessionURL(t *testing.T) {
	store := testStore(t)
	runner := automation.NewMockRunner()
	stage := NewBirthday(classify.NewMockClassifier(), runner, store, NewFeed(), testMetrics(t))
	ctx := context.Background()

	task, err := stage.Run(ctx, birthdayEvent("e1"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if task == nil {
		t.Fatalf("Run() task = nil, want a completed task")
	}
	if task.Status != events.StatusCompleted {
		t.Fatalf("task.Status = %q, want %q", task.Status, events.StatusCompleted)
	}
	if task.OriginStage != events.StageBirthday {
		t.Fatalf("task.OriginStage = %q, want %q", task.OriginStage, events.StageBirthday)
	}
	if task.ExternalSessionURL == "" {
		t.Fatalf("task.ExternalSessionURL empty, want the live session URL")
	}

	record, _, _ := store.LoadRecord(ctx, "e1")
	if record.SpecializedTask == nil || record.SpecializedTask.ID != task.ID {
		t.Fatalf("record.SpecializedTask = %+v, want persisted task", record.SpecializedTask)
	}
	done, _ := store.HasProcessed(ctx, "e1")
	if !done {
		t.Fatalf("event not marked processed after run")
	}
}

func TestBirthdayRunIsIdempotent(t *testing.T) {
	store := testStore(t)
	runner := automation.NewMockRunner()
	stage := NewBirthday(classify.NewMockClassifier(), runner, store, NewFeed(), testMetrics(t))
	ctx := context.Background()

	first, err := stage.Run(ctx, birthdayEvent("e1"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, err := stage.Run(ctx, birthdayEvent("e1"))
	if err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("second run task = %+v, want reuse of %q", second, first.ID)
	}
	if runner.StartCount() != 1 {
		t.Fatalf("automation started %d times, want 1", runner.StartCount())
	}
}

func TestBirthdayConcurrentRunsInvokeAutomationOnce(t *testing.T) {
	store := testStore(t)
	runner := automation.NewMockRunner()
	runner.SetDelay(50 * time.Millisecond)
	stage := NewBirthday(classify.NewMockClassifier(), runner, store, NewFeed(), testMetrics(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = stage.Run(ctx, birthdayEvent("e1"))
		}()
	}
	wg.Wait()

	if runner.StartCount() != 1 {
		t.Fatalf("automation started %d times under concurrency, want exactly 1", runner.StartCount())
	}
}

func TestBirthdayFailureIsTerminal(t *testing.T) {
	store := testStore(t)
	runner := automation.NewMockRunner()
	runner.SetFailure(errors.New("checkout page crashed"))
	stage := NewBirthday(classify.NewMockClassifier(), runner, store, NewFeed(), testMetrics(t))
	ctx := context.Background()

	task, err := stage.Run(ctx, birthdayEvent("e1"))
	if err == nil {
		t.Fatalf("Run() error = nil, want automation failure")
	}
	if task == nil || task.Status != events.StatusIssue {
		t.Fatalf("task = %+v, want status issue", task)
	}

	done, _ := store.HasProcessed(ctx, "e1")
	if !done {
		t.Fatalf("failed event not marked processed; failures are terminal")
	}

	// A recovered backend is not consulted again without an explicit reset.
	runner.SetFailure(nil)
	again, err := stage.Run(ctx, birthdayEvent("e1"))
	if err != nil {
		t.Fatalf("Run() after failure error = %v", err)
	}
	if again == nil || again.ID != task.ID {
		t.Fatalf("second run produced a new task, want the persisted issue task")
	}
	if runner.StartCount() != 1 {
		t.Fatalf("automation retried after terminal failure")
	}
}

func TestBirthdayReclassifyFailureIsTerminal(t *testing.T) {
	store := testStore(t)
	runner := automation.NewMockRunner()
	classifier := classify.NewMockClassifier()
	classifier.SetError(errors.New("classifier offline"))
	stage := NewBirthday(classifier, runner, store, NewFeed(), testMetrics(t))
	ctx := context.Background()

	task, err := stage.Run(ctx, birthdayEvent("e1"))
	if err == nil {
		t.Fatalf("Run() error = nil, want classification failure")
	}
	if task == nil || task.Status != events.StatusIssue {
		t.Fatalf("task = %+v, want status issue", task)
	}
	if runner.StartCount() != 0 {
		t.Fatalf("automation started despite failed classification")
	}
	done, _ := store.HasProcessed(ctx, "e1")
	if !done {
		t.Fatalf("event not marked processed; classification failures are terminal")
	}

	// A recovered classifier is not consulted again without a reset.
	classifier.SetError(nil)
	again, err := stage.Run(ctx, birthdayEvent("e1"))
	if err != nil {
		t.Fatalf("Run() after failure error = %v", err)
	}
	if again == nil || again.ID != task.ID {
		t.Fatalf("second run produced a new task, want the persisted issue task")
	}
	if classifier.CallCount() != 1 {
		t.Fatalf("classifier consulted %d times, want 1", classifier.CallCount())
	}
}

func TestBirthdaySkipsNonBirthdayEvent(t *testing.T) {
	store := testStore(t)
	runner := automation.NewMockRunner()
	stage := NewBirthday(classify.NewMockClassifier(), runner, store, NewFeed(), testMetrics(t))
	ctx := context.Background()

	ev := events.Event{ID: "e1", Title: "Sprint planning", ScheduledAt: time.Now().Add(time.Hour)}
	task, err := stage.Run(ctx, ev)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if task != nil {
		t.Fatalf("Run() task = %+v, want nil for non-birthday event", task)
	}
	if runner.StartCount() != 0 {
		t.Fatalf("automation ran for a non-birthday event")
	}
}
