/*
Package pitcrew coordinates the agents of a predictive vehicle-maintenance
pipeline.

Telemetry submitted for a vehicle becomes a workflow that moves through data
analysis, diagnosis, optional urgency assessment, customer engagement and
scheduling, then waits for the vehicle to be serviced and for customer
feedback. Stage work is done by agents: plain handler functions registered on
the engine, or remote agents reached through the message bus.

# Components

  - bus: in-process publish/subscribe with four priority bands per channel,
    an audit trail and a monitoring mirror.
  - timeout: a watchdog that fires when a stage request gets no answer.
  - engine: the workflow state machine, its retry policy and its worker pool.

System wires all of them from a config.Config, including the optional Redis
archive, the Redis and NATS audit sinks and the Prometheus metrics.

# Usage

	sys, err := pitcrew.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := sys.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer sys.Close(ctx)

	id, err := sys.Engine.Submit(ctx, "VIN-123", map[string]any{
		"telemetry_data": map[string]any{"brake_failure": true},
	})
*/
package pitcrew
