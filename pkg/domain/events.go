package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTransition   EventType = "transition"
	EventStageStart   EventType = "stage_start"
	EventStageFinish  EventType = "stage_finish"
	EventWorkflowDone EventType = "workflow_done"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
}

// TransitionEvent reports an executed state change.
type TransitionEvent struct {
	EventBase
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

// StageEvent reports a stage dispatch or its outcome.
type StageEvent struct {
	EventBase
	AgentKind AgentKind     `json:"agent_kind"`
	Priority  Priority      `json:"priority"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       error         `json:"-"`
	TimedOut  bool          `json:"timed_out,omitempty"`
}

// WorkflowEvent reports a workflow reaching a terminal state.
type WorkflowEvent struct {
	EventBase
	State    State         `json:"state"`
	Priority Priority      `json:"priority"`
	Duration time.Duration `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
// Hooks run synchronously on the engine's goroutines and must not block.
type LifecycleHooks struct {
	OnTransition   func(context.Context, *TransitionEvent)
	OnStageStart   func(context.Context, *StageEvent)
	OnStageFinish  func(context.Context, *StageEvent)
	OnWorkflowDone func(context.Context, *WorkflowEvent)
}
