package events

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

// transitions is the full legal status graph:
// suggested -> approved -> executing -> {completed | issue}, plus the direct
// rejection leg suggested -> issue. Status only ever moves forward along it.
var transitions = map[Status][]Status{
	StatusSuggested: {StatusApproved, StatusIssue},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusIssue},
	StatusCompleted: {},
	StatusIssue:     {},
}

// ValidStatus reports whether s is one of the known task statuses.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// ValidTransition reports whether moving a task from one status to another is
// legal.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the task to the requested status, rejecting anything not
// in the legal graph.
func (t *Task) Transition(to Status) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !ValidTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}
