package domain

import "errors"

// ErrWorkflowNotFound is returned when a workflow ID is neither active nor archived.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrInvalidTransition is returned when a state change is not in the Transitions table.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrNoHandler is returned when no agent handler is registered for a kind.
var ErrNoHandler = errors.New("no handler registered for agent kind")

// ErrStageTimeout is recorded when a stage produced no result before its deadline.
var ErrStageTimeout = errors.New("stage timed out")

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("bus closed")

// ErrEngineStopped is returned when submitting work to a stopped engine.
var ErrEngineStopped = errors.New("engine stopped")

// ErrArchiveNotFound is returned by archives when a workflow ID is unknown.
var ErrArchiveNotFound = errors.New("archived workflow not found")
