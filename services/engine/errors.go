package engine

import "errors"

var (
	// ErrNotFound indicates the execution id is unknown.
	ErrNotFound = errors.New("execution not found")

	// ErrConflict indicates a conditional write lost to a concurrent
	// invocation that already advanced the record. Callers treat it as
	// "already done" and move on.
	ErrConflict = errors.New("execution record changed concurrently")

	// ErrTerminal indicates a request arrived for an execution that has
	// already reached a sink state.
	ErrTerminal = errors.New("execution already terminal")

	// ErrNotPaused indicates a resume request for an execution that is not
	// paused.
	ErrNotPaused = errors.New("execution is not paused")
)
