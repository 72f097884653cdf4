package domain

// State is one of the finite workflow states.
type State string

const (
	StatePending           State = "pending"
	StateAnalyzingData     State = "analyzing_data"
	StateDiagnosis         State = "diagnosis"
	StateUrgencyAssessment State = "urgency_assessment"
	StateEngagement        State = "engagement"
	StateScheduling        State = "scheduling"
	StateScheduled         State = "scheduled"
	StateInService         State = "in_service"
	StateFeedback          State = "feedback"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
	StateRetry             State = "retry"
)

// States lists the full state set.
var States = []State{
	StatePending,
	StateAnalyzingData,
	StateDiagnosis,
	StateUrgencyAssessment,
	StateEngagement,
	StateScheduling,
	StateScheduled,
	StateInService,
	StateFeedback,
	StateCompleted,
	StateFailed,
	StateRetry,
}

// Valid reports whether s belongs to the state set.
func (s State) Valid() bool {
	_, ok := Transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage returns the agent kind that backs a working state.
func (s State) Stage() (AgentKind, bool) {
	switch s {
	case StateAnalyzingData:
		return AgentDataAnalysis, true
	case StateDiagnosis:
		return AgentDiagnosis, true
	case StateUrgencyAssessment:
		return AgentUrgencyAssessment, true
	case StateEngagement:
		return AgentCustomerEngagement, true
	case StateScheduling:
		return AgentScheduling, true
	case StateFeedback:
		return AgentFeedback, true
	}
	return "", false
}

// StateFor returns the working state backed by kind.
func StateFor(kind AgentKind) (State, bool) {
	switch kind {
	case AgentDataAnalysis:
		return StateAnalyzingData, true
	case AgentDiagnosis:
		return StateDiagnosis, true
	case AgentUrgencyAssessment:
		return StateUrgencyAssessment, true
	case AgentCustomerEngagement:
		return StateEngagement, true
	case AgentScheduling:
		return StateScheduling, true
	case AgentFeedback:
		return StateFeedback, true
	}
	return "", false
}
