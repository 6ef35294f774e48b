package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/donna/internal/events"
)

var ErrRecordNotFound = errors.New("processing record not found")

// Store is the durable record of what the pipeline has already done per
// event, plus the (event, stage) lock table backing the in-flight dedup
// guards. Implementations serialize every read-modify-write cycle; callers
// never see interleaved writes.
type Store interface {
	// HasProcessed reports whether the event finished end-to-end processing.
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the event as done. Idempotent.
	MarkProcessed(ctx context.Context, eventID string) error

	// SaveRecord merge-upserts the record: zero-valued fields on the incoming
	// record leave the stored ones untouched.
	SaveRecord(ctx context.Context, record events.ProcessingRecord) error
	LoadRecord(ctx context.Context, eventID string) (events.ProcessingRecord, bool, error)
	LoadAllRecords(ctx context.Context) (map[string]events.ProcessingRecord, error)

	// AcquireLock claims the (event, stage) slot, returning false when another
	// worker already holds it. Locks older than the stale TTL are reclaimed so
	// a crashed run cannot wedge an event forever.
	AcquireLock(ctx context.Context, eventID string, stage events.Stage) (bool, error)
	ReleaseLock(ctx context.Context, eventID string, stage events.Stage) error

	// ResetEvent forgets everything about the event so both stages may run
	// again. This is the only sanctioned way to retry a terminal failure.
	ResetEvent(ctx context.Context, eventID string) error

	Close() error
}

// mergeRecord folds the incoming record into the existing one without
// clobbering fields the caller left unset.
func mergeRecord(existing, incoming events.ProcessingRecord, now time.Time) events.ProcessingRecord {
	out := existing.Clone()
	out.EventID = incoming.EventID
	if incoming.EventTitle != "" {
		out.EventTitle = incoming.EventTitle
	}
	if incoming.PlanningStatus != "" {
		out.PlanningStatus = incoming.PlanningStatus
	}
	if incoming.PlanningTasks != nil {
		out.PlanningTasks = make([]events.Task, len(incoming.PlanningTasks))
		copy(out.PlanningTasks, incoming.PlanningTasks)
	}
	if incoming.SpecializedTask != nil {
		t := *incoming.SpecializedTask
		out.SpecializedTask = &t
	}
	if out.PlanningStatus == "" {
		out.PlanningStatus = events.PlanningIdle
	}
	out.LastUpdated = now
	return out
}
