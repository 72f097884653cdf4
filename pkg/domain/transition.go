package domain

// Transitions is the allowed-transition table. A pair missing from it is
// rejected by the engine and leaves the workflow untouched.
var Transitions = map[State][]State{
	StatePending:           {StateAnalyzingData},
	StateAnalyzingData:     {StateDiagnosis, StateRetry, StateFailed},
	StateDiagnosis:         {StateUrgencyAssessment, StateEngagement, StateCompleted, StateRetry, StateFailed},
	StateUrgencyAssessment: {StateEngagement, StateCompleted, StateRetry, StateFailed},
	StateEngagement:        {StateScheduling, StateRetry, StateFailed},
	StateScheduling:        {StateScheduled, StateRetry, StateFailed},
	StateScheduled:         {StateInService},
	StateInService:         {StateFeedback},
	StateFeedback:          {StateCompleted, StateRetry, StateFailed},
	StateRetry: {
		StateAnalyzingData,
		StateDiagnosis,
		StateUrgencyAssessment,
		StateEngagement,
		StateScheduling,
		StateFeedback,
		StateFailed,
	},
	StateCompleted: {},
	StateFailed:    {},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to State) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
