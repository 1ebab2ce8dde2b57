package task

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress messages set on the record as a task advances.
const (
	MessageCreated   = "Task created"
	MessageCompleted = "Transcription completed"
)

type Task struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Result      string    `json:"-"` // Served only through the result endpoint
	Error       string    `json:"error,omitempty"`

	seq uint64 // insertion order, breaks created_at ties during eviction
}

// Job is the read-only view of a task handed to a Runner.
type Job struct {
	ID  string
	URL string
}

func (t *Task) start(now time.Time) error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusProcessing)
	}
	t.Status = StatusProcessing
	t.StartedAt = notBefore(now, t.CreatedAt)
	return nil
}

func (t *Task) setMessage(msg string) error {
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot report progress in state %s", ErrInvalidTransition, t.Status)
	}
	t.Message = msg
	return nil
}

func (t *Task) complete(now time.Time, transcript string) error {
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusCompleted)
	}
	t.Status = StatusCompleted
	t.CompletedAt = notBefore(now, t.StartedAt)
	t.Result = transcript
	t.Error = ""
	t.Message = MessageCompleted
	return nil
}

func (t *Task) fail(now time.Time, cause error) error {
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusFailed)
	}
	t.Status = StatusFailed
	t.CompletedAt = notBefore(now, t.StartedAt)
	t.Result = ""
	t.Error = cause.Error()
	t.Message = "Error: " + t.Error
	return nil
}

// notBefore clamps ts so timestamps stay ordered if the wall clock steps back.
func notBefore(ts, floor time.Time) time.Time {
	if ts.Before(floor) {
		return floor
	}
	return ts
}
