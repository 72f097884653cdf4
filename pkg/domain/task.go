package domain

import "time"

// Task is one unit of dispatch for the worker pool.
// It is consumed exactly once.
type Task struct {
	ID         string         `json:"id"`
	Priority   Priority       `json:"priority"`
	WorkflowID string         `json:"workflow_id"`
	AgentKind  AgentKind      `json:"agent_kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewTask builds a task with a fresh ID.
func NewTask(workflowID string, kind AgentKind, priority Priority, payload map[string]any) Task {
	return Task{
		ID:         NewID(),
		Priority:   priority.Clamp(),
		WorkflowID: workflowID,
		AgentKind:  kind,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
}
