package domain

// AgentKind identifies the worker agent backing a stage.
type AgentKind string

const (
	AgentDataAnalysis         AgentKind = "data_analysis"
	AgentDiagnosis            AgentKind = "diagnosis"
	AgentUrgencyAssessment    AgentKind = "urgency_assessment"
	AgentCustomerEngagement   AgentKind = "customer_engagement"
	AgentScheduling           AgentKind = "scheduling"
	AgentFeedback             AgentKind = "feedback"
	AgentManufacturingQuality AgentKind = "manufacturing_quality"
)

// AgentKinds lists every known kind in pipeline order.
var AgentKinds = []AgentKind{
	AgentDataAnalysis,
	AgentDiagnosis,
	AgentUrgencyAssessment,
	AgentCustomerEngagement,
	AgentScheduling,
	AgentFeedback,
	AgentManufacturingQuality,
}

// RequestType returns the message type used to ask kind for work.
func (k AgentKind) RequestType() MessageType {
	switch k {
	case AgentDataAnalysis:
		return TypeAnalysisRequest
	case AgentDiagnosis:
		return TypeDiagnosisRequest
	case AgentUrgencyAssessment:
		return TypeUrgencyRequest
	case AgentCustomerEngagement:
		return TypeCustomerEngagement
	case AgentScheduling:
		return TypeSchedulingRequest
	case AgentFeedback:
		return TypeFeedback
	default:
		return TypeManufacturingInsight
	}
}

// ResultType returns the message type kind answers with.
func (k AgentKind) ResultType() MessageType {
	switch k {
	case AgentDataAnalysis:
		return TypeAnalysisResult
	case AgentDiagnosis:
		return TypeDiagnosisResult
	case AgentUrgencyAssessment:
		return TypeUrgencyResult
	case AgentCustomerEngagement:
		return TypeCustomerEngagementResult
	case AgentScheduling:
		return TypeSchedulingResult
	case AgentFeedback:
		return TypeFeedbackResult
	default:
		return TypeAcknowledgment
	}
}
