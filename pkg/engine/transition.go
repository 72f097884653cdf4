package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// transitionLocked is the only write path for Workflow.State. Pairs outside
// domain.Transitions are rejected and leave the workflow untouched.
// The caller holds the workflow lock.
func (e *Engine) transitionLocked(ctx context.Context, rec *record, to domain.State, reason string) bool {
	wf := rec.wf
	from := wf.State

	if !domain.CanTransition(from, to) {
		e.logger.Warn("invalid transition rejected",
			"workflow_id", wf.ID,
			"from", string(from),
			"to", string(to),
			"reason", reason,
		)
		return false
	}

	now := time.Now()
	wf.State = to
	wf.LastUpdated = now
	wf.StateHistory = append(wf.StateHistory, domain.HistoryEntry{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	})
	if to.Terminal() {
		wf.CompletedAt = now
	}
	e.stats.move(from, to)

	e.logger.Debug("workflow transitioned",
		"workflow_id", wf.ID,
		"from", string(from),
		"to", string(to),
		"reason", reason,
	)

	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ctx, &domain.TransitionEvent{
			EventBase: domain.EventBase{Timestamp: now, Type: domain.EventTransition, WorkflowID: wf.ID},
			From:      from,
			To:        to,
			Reason:    reason,
		})
	}

	status := domain.NewMessage(domain.OrchestratorSender, "", domain.TypeStatus, wf.Priority, map[string]any{
		domain.KeyWorkflowID: wf.ID,
		domain.KeyVehicleID:  wf.SubjectID,
		domain.KeyState:      string(to),
		"from":               string(from),
		"reason":             reason,
	})
	status.CorrelationID = wf.CorrelationID
	e.bus.Publish(ctx, domain.ChannelOrchestratorStatus, status)
	return true
}

// TransitionTo forces workflow id into state to. It reports false when the
// pair is not allowed. Any in-flight task of the workflow becomes stale;
// no stage is dispatched for the new state.
func (e *Engine) TransitionTo(ctx context.Context, id string, to domain.State, reason string) (bool, error) {
	var (
		ok    bool
		found bool
	)
	e.locks.Do(id, func() {
		rec := e.lookup(id)
		if rec == nil {
			return
		}
		found = true

		prevTask := rec.taskID
		if ok = e.transitionLocked(ctx, rec, to, reason); !ok {
			return
		}
		if prevTask != "" {
			e.tracker.Acknowledge(prevTask)
			rec.taskID = ""
		}
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
		e.finalizeIfTerminalLocked(ctx, rec)
	})
	if !found {
		return false, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	return ok, nil
}
