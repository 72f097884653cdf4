package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// maxBackoffShift keeps 2^n from overflowing time.Duration.
const maxBackoffShift = 30

// backoff returns the delay before retry attempt n (1-based).
func (e *Engine) backoff(n int) time.Duration {
	if n > maxBackoffShift {
		n = maxBackoffShift
	}
	return e.backoffBase * time.Duration(int64(1)<<uint(n))
}

// failStageLocked applies the retry policy after stage kind failed with cause.
// The retry is scheduled on a timer; workers never sleep.
func (e *Engine) failStageLocked(ctx context.Context, rec *record, kind domain.AgentKind, cause error) {
	wf := rec.wf

	if wf.RetryCount < wf.MaxRetries {
		stage, _ := domain.StateFor(kind)
		wf.RetryCount++
		wf.ErrorLog = append(wf.ErrorLog, domain.StageError{
			Stage:     stage,
			AgentKind: kind,
			Message:   cause.Error(),
			Timestamp: time.Now(),
		})
		reason := fmt.Sprintf("%s failed (attempt %d/%d): %v", kind, wf.RetryCount, wf.MaxRetries, cause)
		if !e.transitionLocked(ctx, rec, domain.StateRetry, reason) {
			return
		}

		delay := e.backoff(wf.RetryCount)
		e.logger.Warn("stage failed, retry scheduled",
			"workflow_id", wf.ID,
			"agent_kind", string(kind),
			"retry", wf.RetryCount,
			"delay", delay,
			"err", cause,
		)
		id := wf.ID
		rec.timer = time.AfterFunc(delay, func() { e.resumeRetry(id, kind) })
		return
	}

	wf.FailureReason = fmt.Sprintf("%s: %v", kind, cause)
	if !e.transitionLocked(ctx, rec, domain.StateFailed, "retries exhausted") {
		return
	}
	e.logger.Error("workflow failed",
		"workflow_id", wf.ID,
		"agent_kind", string(kind),
		"retries", wf.RetryCount,
		"err", cause,
	)
	e.notifyFailure(ctx, wf, kind, cause)
}

// resumeRetry re-enters the failed stage once the backoff elapsed.
func (e *Engine) resumeRetry(id string, kind domain.AgentKind) {
	if e.stopped.Load() {
		return
	}
	ctx := e.runContext()

	e.locks.Do(id, func() {
		rec := e.lookup(id)
		if rec == nil {
			return
		}
		rec.timer = nil
		if rec.wf.State != domain.StateRetry {
			return
		}
		stage, ok := domain.StateFor(kind)
		if !ok {
			return
		}
		reason := fmt.Sprintf("retry %d/%d", rec.wf.RetryCount, rec.wf.MaxRetries)
		if e.transitionLocked(ctx, rec, stage, reason) {
			e.enqueueLocked(rec, kind)
		}
	})
}
