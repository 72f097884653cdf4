package domain

// Well-known channel names. Any component may publish or subscribe by name;
// names are not validated by the bus.
const (
	ChannelVehicleDataInput     = "channel.vehicle.data.input"
	ChannelExternalRequest      = "channel.external.request"
	ChannelFeedbackInput        = "channel.feedback.input"
	ChannelFeedbackProcessed    = "channel.feedback.processed"
	ChannelManufacturingInsight = "channel.manufacturing.insights"

	ChannelSystemError      = "channel.system.error"
	ChannelSystemTimeout    = "channel.system.timeout"
	ChannelSystemMonitoring = "channel.system.monitoring"

	ChannelOrchestratorCommand = "channel.orchestrator.command"
	ChannelOrchestratorStatus  = "channel.orchestrator.status"
)

// OrchestratorSender is the sender name used on messages emitted by the engine.
const OrchestratorSender = "orchestrator"

// RequestChannel returns the channel an agent kind listens on.
func RequestChannel(kind AgentKind) string {
	return "channel." + string(kind) + ".request"
}

// ResultChannel returns the channel an agent kind publishes results to.
func ResultChannel(kind AgentKind) string {
	return "channel." + string(kind) + ".result"
}
