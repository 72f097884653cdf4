package domain

import "time"

// HistoryEntry records one executed transition.
type HistoryEntry struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StageError records one failed stage attempt.
type StageError struct {
	Stage     State     `json:"stage"`
	AgentKind AgentKind `json:"agent_kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Workflow is the unit of work tracked by the engine.
// Only the engine mutates it, and State changes only through its transition path.
type Workflow struct {
	ID            string                       `json:"id"`
	CorrelationID string                       `json:"correlation_id"`
	SubjectID     string                       `json:"subject_id"`
	State         State                        `json:"state"`
	Priority      Priority                     `json:"priority"`
	StageResults  map[AgentKind]map[string]any `json:"stage_results"`
	RetryCount    int                          `json:"retry_count"`
	MaxRetries    int                          `json:"max_retries"`
	ErrorLog      []StageError                 `json:"error_log"`
	StateHistory  []HistoryEntry               `json:"state_history"`
	FailureReason string                       `json:"failure_reason,omitempty"`
	UrgencyScore  float64                      `json:"urgency_score"`
	Payload       map[string]any               `json:"payload,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
	LastUpdated   time.Time                    `json:"last_updated"`
	CompletedAt   time.Time                    `json:"completed_at,omitempty"`
}

// NewWorkflow creates a workflow in the pending state.
func NewWorkflow(subjectID string, priority Priority, maxRetries int, payload map[string]any) *Workflow {
	now := time.Now()
	id := NewID()
	return &Workflow{
		ID:            id,
		CorrelationID: id,
		SubjectID:     subjectID,
		State:         StatePending,
		Priority:      priority.Clamp(),
		StageResults:  make(map[AgentKind]map[string]any),
		MaxRetries:    maxRetries,
		Payload:       CloneMap(payload),
		CreatedAt:     now,
		LastUpdated:   now,
	}
}

// Snapshot returns a deep copy that shares no mutable state with w.
func (w *Workflow) Snapshot() Workflow {
	cp := *w
	cp.StageResults = make(map[AgentKind]map[string]any, len(w.StageResults))
	for k, v := range w.StageResults {
		cp.StageResults[k] = CloneMap(v)
	}
	cp.ErrorLog = append([]StageError(nil), w.ErrorLog...)
	cp.StateHistory = append([]HistoryEntry(nil), w.StateHistory...)
	cp.Payload = CloneMap(w.Payload)
	return cp
}

// Path returns the sequence of states visited, starting from the initial one.
func (w *Workflow) Path() []State {
	if len(w.StateHistory) == 0 {
		return []State{w.State}
	}
	path := make([]State, 0, len(w.StateHistory)+1)
	path = append(path, w.StateHistory[0].From)
	for _, h := range w.StateHistory {
		path = append(path, h.To)
	}
	return path
}
