package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// DefaultDaysToFailure is assumed when a diagnosis gives no estimate.
const DefaultDaysToFailure = 999

// DiagnosisFindings is the part of a diagnosis result the engine scores.
type DiagnosisFindings struct {
	Component              string   `mapstructure:"component"`
	FailureProbability     float64  `mapstructure:"failure_probability"`
	SeverityScore          float64  `mapstructure:"severity_score"`
	EstimatedDaysToFailure float64  `mapstructure:"estimated_days_to_failure"`
	RecommendedServices    []string `mapstructure:"recommended_services"`
}

// DecodeDiagnosis reads findings from a diagnosis result.
func DecodeDiagnosis(result map[string]any) (DiagnosisFindings, error) {
	findings := DiagnosisFindings{EstimatedDaysToFailure: DefaultDaysToFailure}
	if err := weakDecode(result, &findings); err != nil {
		return DiagnosisFindings{}, err
	}
	return findings, nil
}

// Urgency scores the findings in [0,1] for well-formed input.
func (f DiagnosisFindings) Urgency() float64 {
	days := math.Max(f.EstimatedDaysToFailure, 1)
	return f.FailureProbability*0.4 + f.SeverityScore*0.4 + (1/days)*0.2
}

// OnStageResult applies the result of stage kind to workflow id and advances it.
// The workflow must currently be in the state backed by kind.
func (e *Engine) OnStageResult(ctx context.Context, id string, kind domain.AgentKind, result map[string]any) error {
	return e.externalOutcome(ctx, id, kind, func(rec *record) {
		if err := e.advanceLocked(ctx, rec, kind, result); err != nil {
			e.failStageLocked(ctx, rec, kind, err)
		}
	})
}

// OnStageFailure applies the retry policy to workflow id for stage kind.
func (e *Engine) OnStageFailure(ctx context.Context, id string, kind domain.AgentKind, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("stage %s reported failure", kind)
	}
	return e.externalOutcome(ctx, id, kind, func(rec *record) {
		e.failStageLocked(ctx, rec, kind, cause)
	})
}

// externalOutcome supersedes the in-flight task of the workflow with an
// outcome delivered from outside the worker pool.
func (e *Engine) externalOutcome(ctx context.Context, id string, kind domain.AgentKind, apply func(*record)) error {
	var err error
	e.locks.Do(id, func() {
		rec := e.lookup(id)
		if rec == nil {
			err = fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
			return
		}
		stage, ok := rec.wf.State.Stage()
		if !ok || stage != kind {
			err = fmt.Errorf("%w: workflow %s is %s, not awaiting %s", domain.ErrInvalidTransition, id, rec.wf.State, kind)
			return
		}
		if rec.taskID != "" {
			e.tracker.Acknowledge(rec.taskID)
			rec.taskID = ""
		}
		apply(rec)
		e.finalizeIfTerminalLocked(ctx, rec)
	})
	return err
}

// advanceLocked merges result and moves the workflow to its next state.
// A returned error is treated as a failure of the stage.
func (e *Engine) advanceLocked(ctx context.Context, rec *record, kind domain.AgentKind, result map[string]any) error {
	wf := rec.wf
	merged := wf.StageResults[kind]
	if merged == nil {
		merged = make(map[string]any, len(result))
	}
	for k, v := range domain.CloneMap(result) {
		merged[k] = v
	}
	wf.StageResults[kind] = merged

	switch kind {
	case domain.AgentDataAnalysis:
		if e.transitionLocked(ctx, rec, domain.StateDiagnosis, "data analysis complete") {
			e.enqueueLocked(rec, domain.AgentDiagnosis)
		}

	case domain.AgentDiagnosis:
		findings, err := DecodeDiagnosis(merged)
		if err != nil {
			return fmt.Errorf("failed to read diagnosis: %w", err)
		}
		wf.UrgencyScore = findings.Urgency()
		e.publishInsight(ctx, wf, "diagnosis", map[string]any{
			"component":                 findings.Component,
			"failure_probability":       findings.FailureProbability,
			"severity_score":            findings.SeverityScore,
			"estimated_days_to_failure": findings.EstimatedDaysToFailure,
			domain.KeyUrgencyScore:      wf.UrgencyScore,
		})

		if e.registry.Has(domain.AgentUrgencyAssessment) {
			if e.transitionLocked(ctx, rec, domain.StateUrgencyAssessment, "diagnosis complete") {
				e.enqueueLocked(rec, domain.AgentUrgencyAssessment)
			}
			return nil
		}
		e.decideLocked(ctx, rec)

	case domain.AgentUrgencyAssessment:
		var override struct {
			Score *float64 `mapstructure:"urgency_score"`
		}
		if err := weakDecode(merged, &override); err != nil {
			return fmt.Errorf("failed to read urgency assessment: %w", err)
		}
		if override.Score != nil {
			wf.UrgencyScore = *override.Score
		}
		e.decideLocked(ctx, rec)

	case domain.AgentCustomerEngagement:
		if e.transitionLocked(ctx, rec, domain.StateScheduling, "customer engaged") {
			e.enqueueLocked(rec, domain.AgentScheduling)
		}

	case domain.AgentScheduling:
		appt, err := e.scheduleLocked(wf, merged)
		if err != nil {
			return err
		}
		merged[domain.KeyAppointment] = appt.Map()
		if e.transitionLocked(ctx, rec, domain.StateScheduled, "appointment booked") {
			e.publishInsight(ctx, wf, "appointment", appt.Map())
		}

	case domain.AgentFeedback:
		e.transitionLocked(ctx, rec, domain.StateCompleted, "feedback processed")

	default:
		return fmt.Errorf("no pipeline stage for agent %s", kind)
	}
	return nil
}

// decideLocked routes a diagnosed workflow on its urgency score.
func (e *Engine) decideLocked(ctx context.Context, rec *record) {
	wf := rec.wf
	score := wf.UrgencyScore

	switch {
	case score > e.criticalThreshold || wf.Priority == domain.PriorityCritical:
		wf.Priority = domain.PriorityCritical
		e.stats.urgentHandled.Add(1)
		if e.transitionLocked(ctx, rec, domain.StateEngagement, fmt.Sprintf("critical urgency %.2f", score)) {
			e.enqueueLocked(rec, domain.AgentCustomerEngagement)
		}
	case score > e.urgencyThreshold:
		wf.Priority = max(wf.Priority, domain.PriorityHigh)
		if e.transitionLocked(ctx, rec, domain.StateEngagement, fmt.Sprintf("urgency %.2f", score)) {
			e.enqueueLocked(rec, domain.AgentCustomerEngagement)
		}
	default:
		e.transitionLocked(ctx, rec, domain.StateCompleted, fmt.Sprintf("no action required, urgency %.2f", score))
	}
}

// stagePayload assembles the input of stage kind from the workflow so far.
func stagePayload(wf *domain.Workflow, kind domain.AgentKind) map[string]any {
	telemetry, ok := wf.Payload[domain.KeyTelemetry].(map[string]any)
	if !ok {
		telemetry = wf.Payload
	}

	p := map[string]any{
		domain.KeyVehicleID:    wf.SubjectID,
		domain.KeyWorkflowID:   wf.ID,
		domain.KeyTelemetry:    telemetry,
		domain.KeyUrgencyScore: wf.UrgencyScore,
		domain.KeyImmediate:    wf.Priority == domain.PriorityCritical,
	}
	if r, ok := wf.StageResults[domain.AgentDataAnalysis]; ok {
		p[domain.KeyAnalysis] = r
	}
	if r, ok := wf.StageResults[domain.AgentDiagnosis]; ok {
		p[domain.KeyDiagnosis] = r
	}
	if r, ok := wf.StageResults[domain.AgentCustomerEngagement]; ok {
		p[domain.KeyEngagement] = r
		if prefs, ok := r[domain.KeyCustomerPrefs]; ok {
			p[domain.KeyCustomerPrefs] = prefs
		}
	}
	if prefs, ok := wf.Payload[domain.KeyCustomerPrefs]; ok {
		p[domain.KeyCustomerPrefs] = prefs
	}
	if kind == domain.AgentFeedback {
		if r, ok := wf.StageResults[domain.AgentScheduling]; ok {
			p[domain.KeyAppointment] = r[domain.KeyAppointment]
		}
		p[domain.KeyFeedback] = wf.Payload[domain.KeyFeedback]
	}
	return domain.CloneMap(p)
}

// publishInsight forwards findings to the manufacturing quality channel.
func (e *Engine) publishInsight(ctx context.Context, wf *domain.Workflow, kind string, findings map[string]any) {
	msg := domain.NewMessage(domain.OrchestratorSender, string(domain.AgentManufacturingQuality), domain.TypeManufacturingInsight, domain.PriorityLow, map[string]any{
		domain.KeyWorkflowID: wf.ID,
		domain.KeyVehicleID:  wf.SubjectID,
		"insight_type":       kind,
		"findings":           findings,
	})
	msg.CorrelationID = wf.CorrelationID
	e.bus.Publish(ctx, domain.ChannelManufacturingInsight, msg)
}
