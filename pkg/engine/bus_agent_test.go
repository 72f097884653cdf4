package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteAgent answers requests on the kind's request channel the way an
// out-of-process agent would.
func remoteAgent(b *bus.Bus, kind domain.AgentKind, answer func(domain.Message) domain.Message) {
	b.Subscribe(domain.RequestChannel(kind), bus.SubscriberFunc("remote."+string(kind), func(ctx context.Context, req domain.Message) {
		reply := answer(req)
		b.Publish(ctx, req.ReplyTo, reply)
	}))
}

func TestBusAgent_StandaloneRequest(t *testing.T) {
	b := bus.New()
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	remoteAgent(b, domain.AgentDiagnosis, func(req domain.Message) domain.Message {
		return req.Reply("remote-diagnosis", domain.TypeDiagnosisResult, map[string]any{
			"failure_probability": 0.4,
			"echo":                req.Payload[domain.KeyVehicleID],
		})
	})

	agent := engine.NewBusAgent(b, domain.AgentDiagnosis)
	t.Cleanup(agent.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := agent.Handle(ctx, map[string]any{domain.KeyVehicleID: "VIN-REMOTE"})
	require.NoError(t, err)
	assert.Equal(t, "VIN-REMOTE", result["echo"])
	assert.Equal(t, 0.4, result["failure_probability"])
}

func TestBusAgent_ErrorReply(t *testing.T) {
	b := bus.New()
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	remoteAgent(b, domain.AgentScheduling, func(req domain.Message) domain.Message {
		return req.Reply("remote-scheduler", domain.TypeError, map[string]any{domain.KeyError: "calendar unavailable"})
	})

	agent := engine.NewBusAgent(b, domain.AgentScheduling)
	t.Cleanup(agent.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := agent.Handle(ctx, nil)
	assert.ErrorIs(t, err, engine.ErrAgentReply)
	assert.ErrorContains(t, err, "calendar unavailable")
}

func TestBusAgent_NoReplyHonoursContext(t *testing.T) {
	b := bus.New()
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	agent := engine.NewBusAgent(b, domain.AgentFeedback)
	t.Cleanup(agent.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := agent.Handle(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusAgent_ServesEngineStage(t *testing.T) {
	ctx := context.Background()
	e, b := newHarness(t)
	registerPipeline(e, mildDiagnosis)

	seenCh := make(chan domain.Message, 1)
	remoteAgent(b, domain.AgentDataAnalysis, func(req domain.Message) domain.Message {
		select {
		case seenCh <- req:
		default:
		}
		return req.Reply("remote-analysis", domain.TypeAnalysisResult, map[string]any{"anomalies": 3})
	})

	agent := engine.NewBusAgent(b, domain.AgentDataAnalysis)
	t.Cleanup(agent.Close)
	e.RegisterAgent(domain.AgentDataAnalysis, agent.Handle)
	require.NoError(t, e.Start(ctx))

	id, err := e.Submit(ctx, "VIN-BRIDGE", nil)
	require.NoError(t, err)

	wf := waitForState(t, e, id, domain.StateCompleted)
	assert.Equal(t, 3, wf.StageResults[domain.AgentDataAnalysis]["anomalies"])

	req := <-seenCh
	assert.Equal(t, wf.CorrelationID, req.CorrelationID)
	assert.Equal(t, domain.ResultChannel(domain.AgentDataAnalysis), req.ReplyTo)
	assert.Equal(t, domain.TypeAnalysisRequest, req.Type)
}
