package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/aretw0/pitcrew/pkg/timeout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

func newHarness(t *testing.T, opts ...engine.Option) (*engine.Engine, *bus.Bus) {
	t.Helper()

	b := bus.New()
	tr := timeout.New(timeout.WithPollInterval(10 * time.Millisecond))
	require.NoError(t, tr.Start(context.Background()))

	defaults := []engine.Option{
		engine.WithWorkers(2),
		engine.WithBackoffBase(time.Millisecond),
		engine.WithStageTimeout(2 * time.Second),
	}
	e := engine.New(b, tr, append(defaults, opts...)...)

	t.Cleanup(func() {
		e.Stop()
		tr.Stop()
		_ = b.Close(context.Background())
	})
	return e, b
}

func static(result map[string]any) engine.Handler {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return result, nil
	}
}

func failing(msg string) engine.Handler {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, errors.New(msg)
	}
}

var (
	severeDiagnosis = map[string]any{
		"component":                 "brakes",
		"failure_probability":       0.9,
		"severity_score":            0.9,
		"estimated_days_to_failure": 2,
		"recommended_services":      []any{"brake_pad_replacement"},
	}
	moderateDiagnosis = map[string]any{
		"failure_probability":       0.6,
		"severity_score":            0.5,
		"estimated_days_to_failure": 30,
	}
	mildDiagnosis = map[string]any{
		"failure_probability":       0.1,
		"severity_score":            0.1,
		"estimated_days_to_failure": 365,
	}
	schedulingOptions = map[string]any{
		"options": []any{
			map[string]any{
				"datetime":                  "2026-03-02T09:00:00Z",
				"service_center":            "north",
				"customer_preference_score": 0.9,
				"service_center_load":       0.1,
			},
			map[string]any{
				"datetime":                  "2026-03-01T14:00:00Z",
				"service_center":            "south",
				"customer_preference_score": 0.2,
				"service_center_load":       0.9,
			},
		},
	}
)

func registerPipeline(e *engine.Engine, diagnosis map[string]any) {
	e.RegisterAgent(domain.AgentDataAnalysis, static(map[string]any{"anomalies": 1}))
	e.RegisterAgent(domain.AgentDiagnosis, static(diagnosis))
	e.RegisterAgent(domain.AgentCustomerEngagement, static(map[string]any{"accepted": true}))
	e.RegisterAgent(domain.AgentScheduling, static(schedulingOptions))
	e.RegisterAgent(domain.AgentFeedback, static(map[string]any{"rating": 5}))
}

func waitForState(t *testing.T, e *engine.Engine, id string, state domain.State) domain.Workflow {
	t.Helper()
	var last domain.Workflow
	require.Eventually(t, func() bool {
		wf, err := e.StatusOf(context.Background(), id)
		if err != nil {
			return false
		}
		last = wf
		return wf.State == state
	}, waitTimeout, 5*time.Millisecond, "workflow %s never reached %s (last %s)", id, state, last.State)
	return last
}

func collect(b *bus.Bus, channel, id string) <-chan domain.Message {
	ch := make(chan domain.Message, 64)
	b.Subscribe(channel, bus.SubscriberFunc(id, func(ctx context.Context, msg domain.Message) {
		select {
		case ch <- msg:
		default:
		}
	}))
	return ch
}

func TestEngine_CriticalVehicleIsScheduledImmediately(t *testing.T) {
	ctx := context.Background()
	e, b := newHarness(t)
	registerPipeline(e, severeDiagnosis)
	insights := collect(b, domain.ChannelManufacturingInsight, "test.insights")
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-CRIT", map[string]any{"brake_failure": true, "speed": 60})
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateScheduled)
	assert.Equal(t, domain.PriorityCritical, wf.Priority)
	assert.Equal(t, []domain.State{
		domain.StatePending,
		domain.StateAnalyzingData,
		domain.StateDiagnosis,
		domain.StateEngagement,
		domain.StateScheduling,
		domain.StateScheduled,
	}, wf.Path())
	assert.InDelta(t, 0.36+0.36+0.1, wf.UrgencyScore, 1e-9)

	appt, ok := wf.StageResults[domain.AgentScheduling][domain.KeyAppointment].(map[string]any)
	require.True(t, ok, "appointment stored on the workflow")
	assert.Equal(t, "south", appt["service_center"], "critical workflows take the earliest slot")
	assert.Equal(t, true, appt[domain.KeyImmediate])
	assert.Equal(t, []any{"brake_pad_replacement"}, appt[domain.KeyRecommendations])

	stats := e.Statistics()
	assert.Equal(t, int64(1), stats.UrgentHandled)
	assert.Equal(t, 1, stats.Active)

	require.NoError(t, e.MarkInService(ctx, id))
	require.NoError(t, e.SubmitFeedback(ctx, id, map[string]any{"rating": 4}))

	wf = waitForState(t, e, id, domain.StateCompleted)
	assert.Equal(t, domain.StateFeedback, wf.StateHistory[len(wf.StateHistory)-1].From)
	assert.False(t, wf.CompletedAt.IsZero())

	kinds := map[any]bool{}
	require.Eventually(t, func() bool {
		select {
		case msg := <-insights:
			kinds[msg.Payload["insight_type"]] = true
		default:
		}
		return kinds["diagnosis"] && kinds["appointment"]
	}, waitTimeout, 5*time.Millisecond)
}

func TestEngine_ModerateUrgencyPicksPreferredSlot(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)
	registerPipeline(e, moderateDiagnosis)
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-MOD", map[string]any{"check_engine_light": true})
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateScheduled)
	assert.Equal(t, domain.PriorityHigh, wf.Priority)

	appt := wf.StageResults[domain.AgentScheduling][domain.KeyAppointment].(map[string]any)
	assert.Equal(t, "north", appt["service_center"])
	assert.Equal(t, false, appt[domain.KeyImmediate])
	assert.Equal(t, int64(0), e.Statistics().UrgentHandled)
}

func TestEngine_ElevatedUrgencyRaisesPriority(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)
	registerPipeline(e, moderateDiagnosis)
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-QUIET", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateScheduled)
	assert.Equal(t, domain.PriorityHigh, wf.Priority)
	assert.Contains(t, wf.Path(), domain.StateEngagement)
	assert.Equal(t, int64(0), e.Statistics().UrgentHandled)
}

func TestEngine_LowUrgencyCompletesAfterDiagnosis(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)
	registerPipeline(e, mildDiagnosis)
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-OK", map[string]any{"maintenance_due": false})
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateCompleted)
	assert.Equal(t, domain.PriorityLow, wf.Priority)
	assert.Equal(t, []domain.State{
		domain.StatePending,
		domain.StateAnalyzingData,
		domain.StateDiagnosis,
		domain.StateCompleted,
	}, wf.Path())
	assert.Empty(t, wf.ErrorLog)

	stats := e.Statistics()
	assert.Equal(t, int64(1), stats.TotalWorkflows)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.ByState[domain.StateCompleted])
	assert.Zero(t, stats.ByState[domain.StateAnalyzingData])
	assert.Greater(t, stats.AverageCompletion, time.Duration(0))
}

func TestEngine_UrgencyAgentOverridesScore(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)
	registerPipeline(e, mildDiagnosis)
	e.RegisterAgent(domain.AgentUrgencyAssessment, static(map[string]any{"urgency_score": 0.95}))
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-URG", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateScheduled)
	assert.Contains(t, wf.Path(), domain.StateUrgencyAssessment)
	assert.Equal(t, 0.95, wf.UrgencyScore)
	assert.Equal(t, domain.PriorityCritical, wf.Priority)
}

func TestEngine_RetriesAreBounded(t *testing.T) {
	ctx := context.Background()
	e, b := newHarness(t, engine.WithMaxRetries(2))
	registerPipeline(e, severeDiagnosis)
	e.RegisterAgent(domain.AgentDiagnosis, failing("sensor offline"))
	errorsOnBus := collect(b, domain.ChannelSystemError, "test.errors")
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-RETRY", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateFailed)
	assert.Equal(t, 2, wf.RetryCount)
	require.Len(t, wf.ErrorLog, 2)
	assert.Equal(t, domain.StateDiagnosis, wf.ErrorLog[0].Stage)
	assert.Contains(t, wf.ErrorLog[1].Message, "sensor offline")
	assert.Contains(t, wf.FailureReason, "sensor offline")

	retries := 0
	for _, s := range wf.Path() {
		if s == domain.StateRetry {
			retries++
		}
	}
	assert.Equal(t, 2, retries)

	select {
	case werr := <-e.Errors():
		assert.Equal(t, id, werr.WorkflowID)
		assert.Equal(t, domain.AgentDiagnosis, werr.AgentKind)
		assert.ErrorContains(t, werr, "sensor offline")
	case <-time.After(waitTimeout):
		t.Fatal("no error notification")
	}

	select {
	case msg := <-errorsOnBus:
		assert.Equal(t, domain.TypeError, msg.Type)
		assert.Equal(t, id, msg.Payload[domain.KeyWorkflowID])
	case <-time.After(waitTimeout):
		t.Fatal("no error message on the bus")
	}
	assert.Equal(t, int64(1), e.Statistics().Failed)
}

func TestEngine_MissingHandlerFailsStage(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t, engine.WithMaxRetries(0))
	e.RegisterAgent(domain.AgentDataAnalysis, static(nil))
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-NOHANDLER", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateFailed)
	assert.Contains(t, wf.FailureReason, domain.ErrNoHandler.Error())
	assert.Empty(t, wf.ErrorLog)
}

func TestEngine_HandlerPanicIsStageFailure(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t, engine.WithMaxRetries(0))
	e.RegisterAgent(domain.AgentDataAnalysis, func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		panic("corrupt frame")
	})
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-PANIC", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateFailed)
	assert.Contains(t, wf.FailureReason, "panicked")

	// The pool survives the panic.
	registerPipeline(e, mildDiagnosis)
	next, err := e.Submit(ctx, "VIN-AFTER-PANIC", nil)
	require.NoError(t, err)
	waitForState(t, e, next, domain.StateCompleted)
}

func TestEngine_StageTimeoutDiscardsLateResult(t *testing.T) {
	ctx := context.Background()
	e, b := newHarness(t, engine.WithMaxRetries(0), engine.WithStageTimeout(50*time.Millisecond))
	timeouts := collect(b, domain.ChannelSystemTimeout, "test.timeouts")

	release := make(chan struct{})
	returned := make(chan struct{})
	e.RegisterAgent(domain.AgentDataAnalysis, func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		defer close(returned)
		<-release
		return map[string]any{"late": true}, nil
	})
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-SLOW", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateFailed)
	assert.Contains(t, wf.FailureReason, domain.ErrStageTimeout.Error())

	select {
	case msg := <-timeouts:
		assert.Equal(t, domain.TypeTimeout, msg.Type)
		assert.Equal(t, id, msg.Payload[domain.KeyWorkflowID])
	case <-time.After(waitTimeout):
		t.Fatal("no timeout message on the bus")
	}

	close(release)
	<-returned
	time.Sleep(20 * time.Millisecond)

	wf, err = e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, wf.State)
	assert.NotContains(t, wf.StageResults, domain.AgentDataAnalysis)
}

func TestEngine_StatusOf(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)

	_, err := e.StatusOf(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	id, err := e.Submit(ctx, "VIN-SNAP", map[string]any{"tire_pressure_low": true})
	require.NoError(t, err)

	snap, err := e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "VIN-SNAP", snap.SubjectID)
	assert.Equal(t, domain.StateAnalyzingData, snap.State)
	assert.Equal(t, domain.PriorityHigh, snap.Priority)

	snap.StateHistory[0].Reason = "tampered"
	snap.Payload["tire_pressure_low"] = false

	again, err := e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "submitted", again.StateHistory[0].Reason)
	assert.Equal(t, true, again.Payload["tire_pressure_low"])
	assert.Equal(t, 1, e.Statistics().QueueDepth, "not started, so the first task stays queued")
}

func TestEngine_ExternalStageOutcomes(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)

	id, err := e.Submit(ctx, "VIN-EXT", nil)
	require.NoError(t, err)

	err = e.OnStageResult(ctx, id, domain.AgentDiagnosis, mildDiagnosis)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, e.OnStageResult(ctx, id, domain.AgentDataAnalysis, map[string]any{"anomalies": 0}))
	wf, err := e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDiagnosis, wf.State)

	require.NoError(t, e.OnStageResult(ctx, id, domain.AgentDiagnosis, mildDiagnosis))
	wf, err = e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, wf.State)

	err = e.OnStageResult(ctx, id, domain.AgentFeedback, nil)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound, "terminal workflows leave the active set")
}

func TestEngine_OnStageFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t, engine.WithMaxRetries(1))

	id, err := e.Submit(ctx, "VIN-BACKOFF", nil)
	require.NoError(t, err)

	require.NoError(t, e.OnStageFailure(ctx, id, domain.AgentDataAnalysis, errors.New("link down")))
	wf := waitForState(t, e, id, domain.StateAnalyzingData)
	assert.Equal(t, 1, wf.RetryCount)
	assert.Equal(t, domain.StateRetry, wf.StateHistory[len(wf.StateHistory)-1].From)

	require.NoError(t, e.OnStageFailure(ctx, id, domain.AgentDataAnalysis, errors.New("link down again")))
	wf = waitForState(t, e, id, domain.StateFailed)
	assert.Equal(t, 1, wf.RetryCount, "retry count never exceeds the bound")
	assert.Len(t, wf.ErrorLog, 1)
	assert.Contains(t, wf.FailureReason, "link down again")
}

func TestEngine_TransitionTo(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)

	id, err := e.Submit(ctx, "VIN-FORCE", nil)
	require.NoError(t, err)

	ok, err := e.TransitionTo(ctx, id, domain.StateScheduled, "skip ahead")
	require.NoError(t, err)
	assert.False(t, ok)

	wf, err := e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzingData, wf.State)
	assert.Len(t, wf.StateHistory, 1)

	ok, err = e.TransitionTo(ctx, id, domain.StateFailed, "operator abort")
	require.NoError(t, err)
	assert.True(t, ok)

	wf, err = e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, wf.State)
	assert.Equal(t, int64(1), e.Statistics().Failed)

	_, err = e.TransitionTo(ctx, "missing", domain.StateFailed, "")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestEngine_ServiceStepsRequireState(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)

	id, err := e.Submit(ctx, "VIN-EARLY", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.MarkInService(ctx, id), domain.ErrInvalidTransition)
	assert.ErrorIs(t, e.SubmitFeedback(ctx, id, nil), domain.ErrInvalidTransition)
	assert.ErrorIs(t, e.MarkInService(ctx, "missing"), domain.ErrWorkflowNotFound)
}

func TestEngine_Lifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t)

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), engine.ErrAlreadyStarted)

	e.Stop()
	e.Stop()

	_, err := e.Submit(ctx, "VIN-LATE", nil)
	assert.ErrorIs(t, err, engine.ErrEngineStopped)
	assert.ErrorIs(t, e.Start(ctx), engine.ErrEngineStopped)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e, _ := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_DrivenThroughBus(t *testing.T) {
	ctx := context.Background()
	e, b := newHarness(t)
	registerPipeline(e, severeDiagnosis)
	statuses := collect(b, domain.ChannelOrchestratorStatus, "test.status")
	require.NoError(t, e.Start(ctx))

	b.Publish(ctx, domain.ChannelVehicleDataInput, domain.NewMessage("telematics", domain.OrchestratorSender, domain.TypeVehicleData, domain.PriorityHigh, map[string]any{
		domain.KeyVehicleID: "VIN-BUS",
		"engine_critical":   true,
	}))

	var id string
	require.Eventually(t, func() bool {
		ids := e.ActiveWorkflows()
		if len(ids) == 1 {
			id = ids[0]
		}
		return id != ""
	}, waitTimeout, 5*time.Millisecond)

	wf := waitForState(t, e, id, domain.StateScheduled)
	assert.Equal(t, "VIN-BUS", wf.SubjectID)

	b.Publish(ctx, domain.ChannelOrchestratorCommand, domain.NewMessage("workshop", domain.OrchestratorSender, domain.TypeCommand, domain.PriorityNormal, map[string]any{
		domain.KeyCommand:    domain.CommandInService,
		domain.KeyWorkflowID: id,
	}))
	waitForState(t, e, id, domain.StateInService)

	b.Publish(ctx, domain.ChannelFeedbackInput, domain.NewMessage("customer-app", domain.OrchestratorSender, domain.TypeFeedback, domain.PriorityLow, map[string]any{
		domain.KeyWorkflowID: id,
		domain.KeyFeedback:   map[string]any{"rating": 5, "comment": "quick fix"},
	}))
	waitForState(t, e, id, domain.StateCompleted)

	select {
	case msg := <-statuses:
		assert.Equal(t, domain.TypeStatus, msg.Type)
		assert.Equal(t, id, msg.Payload[domain.KeyWorkflowID])
	case <-time.After(waitTimeout):
		t.Fatal("no status message on the bus")
	}
}

func TestEngine_ConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	e, _ := newHarness(t, engine.WithWorkers(4))
	registerPipeline(e, mildDiagnosis)
	require.NoError(t, e.Start(ctx))

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Submit(ctx, fmt.Sprintf("VIN-%03d", i), map[string]any{"maintenance_due": i%2 == 0})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return e.Statistics().Completed == n
	}, waitTimeout, 10*time.Millisecond)

	stats := e.Statistics()
	assert.Equal(t, int64(n), stats.TotalWorkflows)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, n, stats.ByState[domain.StateCompleted])
}

func TestEngine_Hooks(t *testing.T) {
	ctx := context.Background()

	var (
		mu          sync.Mutex
		transitions []domain.State
		finished    []domain.State
		stages      []domain.AgentKind
	)
	hooks := domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, ev *domain.TransitionEvent) {
			mu.Lock()
			transitions = append(transitions, ev.To)
			mu.Unlock()
		},
		OnStageFinish: func(ctx context.Context, ev *domain.StageEvent) {
			mu.Lock()
			stages = append(stages, ev.AgentKind)
			mu.Unlock()
		},
		OnWorkflowDone: func(ctx context.Context, ev *domain.WorkflowEvent) {
			mu.Lock()
			finished = append(finished, ev.State)
			mu.Unlock()
		},
	}

	e, _ := newHarness(t, engine.WithHooks(hooks))
	registerPipeline(e, mildDiagnosis)
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-HOOKS", nil)
	require.NoError(t, err)
	waitForState(t, e, id, domain.StateCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.State{domain.StateAnalyzingData, domain.StateDiagnosis, domain.StateCompleted}, transitions)
	assert.Equal(t, []domain.AgentKind{domain.AgentDataAnalysis, domain.AgentDiagnosis}, stages)
	assert.Equal(t, []domain.State{domain.StateCompleted}, finished)
}
