package domain

// Payload keys shared between the engine and agents.
const (
	KeyVehicleID       = "vehicle_id"
	KeyWorkflowID      = "workflow_id"
	KeyUrgencyScore    = "urgency_score"
	KeyAnalysis        = "analysis_results"
	KeyDiagnosis       = "diagnosis_results"
	KeyEngagement      = "engagement_results"
	KeyAppointment     = "appointment"
	KeyTelemetry       = "telemetry_data"
	KeyFeedback        = "feedback"
	KeyImmediate       = "immediate"
	KeyError           = "error"
	KeyCommand         = "command"
	KeyState           = "state"
	KeyStage           = "stage"
	KeyRetryCount      = "retry_count"
	KeyOptions         = "options"
	KeyCustomerPrefs   = "customer_preferences"
	KeyRecommendations = "recommended_services"
)

// CommandInService is the orchestrator command that marks a scheduled workflow as in service.
const CommandInService = "in_service"
