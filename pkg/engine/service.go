package engine

import (
	"context"
	"fmt"

	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
)

const subscriberPrefix = "engine."

// MarkInService records that the vehicle of a scheduled workflow is at the
// service center.
func (e *Engine) MarkInService(ctx context.Context, id string) error {
	return e.expectState(ctx, id, domain.StateScheduled, func(rec *record) {
		e.transitionLocked(ctx, rec, domain.StateInService, "vehicle in service")
	})
}

// SubmitFeedback attaches post-service feedback and queues its processing.
func (e *Engine) SubmitFeedback(ctx context.Context, id string, feedback map[string]any) error {
	return e.expectState(ctx, id, domain.StateInService, func(rec *record) {
		if rec.wf.Payload == nil {
			rec.wf.Payload = make(map[string]any)
		}
		rec.wf.Payload[domain.KeyFeedback] = domain.CloneMap(feedback)
		if e.transitionLocked(ctx, rec, domain.StateFeedback, "feedback received") {
			e.enqueueLocked(rec, domain.AgentFeedback)
		}
	})
}

func (e *Engine) expectState(ctx context.Context, id string, want domain.State, apply func(*record)) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	var err error
	e.locks.Do(id, func() {
		rec := e.lookup(id)
		if rec == nil {
			err = fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
			return
		}
		if rec.wf.State != want {
			err = fmt.Errorf("%w: workflow %s is %s, expected %s", domain.ErrInvalidTransition, id, rec.wf.State, want)
			return
		}
		apply(rec)
	})
	return err
}

// subscribeInputs wires the bus entry points of the engine.
// Called with runMu held.
func (e *Engine) subscribeInputs() {
	e.subscribe(domain.ChannelVehicleDataInput, "vehicle-input", e.onVehicleData)
	e.subscribe(domain.ChannelFeedbackInput, "feedback-input", e.onFeedback)
	e.subscribe(domain.ChannelOrchestratorCommand, "command", e.onCommand)
}

func (e *Engine) subscribe(channel, name string, fn func(context.Context, domain.Message)) {
	sub := bus.SubscriberFunc(subscriberPrefix+name, fn)
	e.bus.Subscribe(channel, sub)
	e.subs = append(e.subs, subscription{channel: channel, sub: sub})
}

func (e *Engine) onVehicleData(ctx context.Context, msg domain.Message) {
	subject, _ := msg.Payload[domain.KeyVehicleID].(string)
	if subject == "" {
		subject = msg.Sender
	}
	if _, err := e.Submit(ctx, subject, msg.Payload); err != nil {
		e.logger.Error("failed to submit vehicle data", "message_id", msg.ID, "err", err)
	}
}

func (e *Engine) onFeedback(ctx context.Context, msg domain.Message) {
	id, _ := msg.Payload[domain.KeyWorkflowID].(string)
	feedback, ok := msg.Payload[domain.KeyFeedback].(map[string]any)
	if !ok {
		feedback = msg.Payload
	}
	if err := e.SubmitFeedback(ctx, id, feedback); err != nil {
		e.logger.Warn("feedback rejected", "workflow_id", id, "message_id", msg.ID, "err", err)
	}
}

func (e *Engine) onCommand(ctx context.Context, msg domain.Message) {
	cmd, _ := msg.Payload[domain.KeyCommand].(string)
	id, _ := msg.Payload[domain.KeyWorkflowID].(string)

	switch cmd {
	case domain.CommandInService:
		if err := e.MarkInService(ctx, id); err != nil {
			e.logger.Warn("command rejected", "command", cmd, "workflow_id", id, "err", err)
		}
	default:
		e.logger.Debug("unknown command ignored", "command", cmd, "message_id", msg.ID)
	}
}
