/*
Package bus implements the in-memory, priority-aware publish/subscribe bus.

Each named channel is backed by a PriorityChannel holding one bounded FIFO
sub-queue per priority band. Consumers either pull with NextMessage, which
always drains the highest non-empty band first, or subscribe and receive every
publish asynchronously.

# Key Components

  - PriorityChannel: Four FIFO sub-queues with drop-oldest eviction per band.
  - Bus: Channel registry, subscriber fan-out, monitoring mirror and audit trail.
  - Subscriber: Identity-carrying callback; subscribe and unsubscribe are idempotent by ID.

# Usage

	b := bus.New(bus.WithLogger(logger))
	defer b.Close(ctx)

	b.Subscribe("channel.scheduling.request", bus.SubscriberFunc("scheduler", handle))
	b.Publish(ctx, "channel.scheduling.request", msg)

The bus is not a durable log. Messages live only as long as the process.
*/
package bus
