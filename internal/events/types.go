package events

import "time"

type Status string

const (
	StatusSuggested Status = "suggested"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusIssue     Status = "issue"
)

type Category string

const (
	CategoryShopping      Category = "shopping"
	CategoryBooking       Category = "booking"
	CategoryCommunication Category = "communication"
	CategoryPreparation   Category = "preparation"
)

// Stage identifies which pipeline stage authored a task. Provenance lives in
// this field, never in the shape of the task id.
type Stage string

const (
	StagePlanner  Stage = "planner"
	StageBirthday Stage = "birthday"
)

type PlanningStatus string

const (
	PlanningIdle      PlanningStatus = "idle"
	PlanningRunning   PlanningStatus = "planning"
	PlanningCompleted PlanningStatus = "completed"
	PlanningError     PlanningStatus = "error"
)

// Event is a calendar entry tracked through the pipeline. Identity is ID,
// assigned by the calendar provider; the pipeline never rewrites it.
type Event struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Location     string    `json:"location,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	Tasks        []Task    `json:"tasks"`
}

// Task is a unit of follow-up work attached to an event.
type Task struct {
	ID                 string    `json:"id"`
	EventID            string    `json:"event_id"`
	OriginStage        Stage     `json:"origin_stage"`
	Category           Category  `json:"category"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Status             Status    `json:"status"`
	NeedsApproval      bool      `json:"needs_approval"`
	ExternalSessionURL string    `json:"external_session_url,omitempty"`
	Detail             string    `json:"detail,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ProcessingRecord is the durable, per-event record of what the pipeline has
// already done. It is the single authority for "has stage X finished";
// anything held in memory is a disposable cache of this.
type ProcessingRecord struct {
	EventID         string         `json:"event_id"`
	EventTitle      string         `json:"event_title"`
	PlanningStatus  PlanningStatus `json:"planning_status"`
	PlanningTasks   []Task         `json:"planning_tasks"`
	SpecializedTask *Task          `json:"specialized_task,omitempty"`
	LastUpdated     time.Time      `json:"last_updated"`
}

func (e Event) Clone() Event {
	out := e
	if e.Participants != nil {
		out.Participants = make([]string, len(e.Participants))
		copy(out.Participants, e.Participants)
	}
	if e.Tasks != nil {
		out.Tasks = make([]Task, len(e.Tasks))
		copy(out.Tasks, e.Tasks)
	}
	return out
}

func (r ProcessingRecord) Clone() ProcessingRecord {
	out := r
	if r.PlanningTasks != nil {
		out.PlanningTasks = make([]Task, len(r.PlanningTasks))
		copy(out.PlanningTasks, r.PlanningTasks)
	}
	if r.SpecializedTask != nil {
		t := *r.SpecializedTask
		out.SpecializedTask = &t
	}
	return out
}

// PlanningDone reports whether the planning stage settled for this event,
// successfully or not. Either way the stage must not run again without an
// explicit reset.
func (r ProcessingRecord) PlanningDone() bool {
	return r.PlanningStatus == PlanningCompleted || r.PlanningStatus == PlanningError
}

func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusIssue:
		return true
	default:
		return false
	}
}
