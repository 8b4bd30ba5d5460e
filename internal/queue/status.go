package queue

import "fmt"

// Status is the lifecycle state of a Task.
//
// Valid status graph:
//
//	WAITING ──► ACTIVE ──► COMPLETED
//	   ▲          │
//	   │          ├──────► FAILED
//	   │          ▼
//	   └─────── DELAYED
//
// COMPLETED and FAILED are terminal states.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusWaiting: {StatusActive},
	StatusActive:  {StatusCompleted, StatusFailed, StatusDelayed},
	StatusDelayed: {StatusWaiting},
	// COMPLETED and FAILED are terminal
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusDelayed:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func IsTerminal(s Status) bool { return s == StatusCompleted || s == StatusFailed }

// TransitionError is returned when a backend is asked for a move the state
// machine forbids, e.g. completing a task that already failed.
type TransitionError struct {
	TaskID   string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: transition %s → %s is not allowed", e.TaskID, e.From, e.To)
}

func checkTransition(id string, from, to Status) error {
	if !IsTransitionAllowed(from, to) {
		return &TransitionError{TaskID: id, From: from, To: to}
	}
	return nil
}
