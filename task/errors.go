package task

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when a submission is missing its source URL.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound is returned for ids that were never issued or were evicted.
	ErrNotFound = errors.New("task not found")
	// ErrNotCompleteYet is matched by NotCompleteError.
	ErrNotCompleteYet = errors.New("transcription is not complete yet")
	// ErrBusy is returned when admission refuses a new task.
	ErrBusy = errors.New("service busy")
	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("service shutting down")
	// ErrInvalidTransition is returned for moves the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// NotCompleteError carries the state a task was in when its result was requested.
type NotCompleteError struct {
	State Status
}

func (e *NotCompleteError) Error() string {
	return fmt.Sprintf("%s (status: %s)", ErrNotCompleteYet, e.State)
}

func (e *NotCompleteError) Is(target error) bool {
	return target == ErrNotCompleteYet
}

// FailureKind names the stage a task failed in. It prefixes the stored error.
type FailureKind string

const (
	FetchFailed       FailureKind = "FetchFailed"
	TranscodeFailed   FailureKind = "TranscodeFailed"
	RecognitionFailed FailureKind = "RecognitionFailed"
	Cancelled         FailureKind = "Cancelled"
	InternalError     FailureKind = "InternalError"
)

// StageError is the uniform failure signal produced by a pipeline run.
type StageError struct {
	Kind FailureKind
	Err  error
}

func NewStageError(kind FailureKind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or InternalError when err
// did not come from a pipeline stage.
func KindOf(err error) FailureKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return InternalError
}
