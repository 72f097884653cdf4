package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	pcmcp "github.com/aretw0/pitcrew/pkg/adapters/mcp"
	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/aretw0/pitcrew/pkg/timeout"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*pcmcp.Server, *engine.Engine) {
	t.Helper()
	b := bus.New()
	e := engine.New(b, timeout.New())
	t.Cleanup(func() {
		e.Stop()
		_ = b.Close(context.Background())
	})
	return pcmcp.NewServer(e, b, "test"), e
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestServer_SubmitAndStatus(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	res, err := s.HandleSubmit(ctx, call(map[string]any{
		"vehicle_id": "VIN-1",
		"payload":    `{"check_engine_light": true}`,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &created))
	require.NotEmpty(t, created["workflow_id"])

	res, err = s.HandleStatus(ctx, call(map[string]any{"workflow_id": created["workflow_id"]}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var wf domain.Workflow
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &wf))
	assert.Equal(t, "VIN-1", wf.SubjectID)
	assert.Equal(t, domain.PriorityHigh, wf.Priority)
}

func TestServer_ToolErrors(t *testing.T) {
	s, e := setup(t)
	ctx := context.Background()

	res, err := s.HandleSubmit(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.HandleSubmit(ctx, call(map[string]any{"vehicle_id": " \x1b "}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "blank vehicle id")

	res, err = s.HandleSubmit(ctx, call(map[string]any{"vehicle_id": "VIN-2", "payload": "{"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "payload must be a JSON object")

	res, err = s.HandleStatus(ctx, call(map[string]any{"workflow_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), domain.ErrWorkflowNotFound.Error())

	id, err := e.Submit(ctx, "VIN-3", nil)
	require.NoError(t, err)

	res, err = s.HandleMarkInService(ctx, call(map[string]any{"workflow_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "workflow is not scheduled yet")

	res, err = s.HandleFeedback(ctx, call(map[string]any{"workflow_id": id}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "feedback is required")
}

func TestServer_ServiceTools(t *testing.T) {
	s, e := setup(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, "VIN-4", nil)
	require.NoError(t, err)
	for _, to := range []domain.State{
		domain.StateDiagnosis,
		domain.StateEngagement,
		domain.StateScheduling,
		domain.StateScheduled,
	} {
		ok, err := e.TransitionTo(ctx, id, to, "test")
		require.NoError(t, err)
		require.True(t, ok)
	}

	res, err := s.HandleMarkInService(ctx, call(map[string]any{"workflow_id": id}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = s.HandleFeedback(ctx, call(map[string]any{"workflow_id": id, "feedback": `{"rating": 5}`}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	wf, err := e.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFeedback, wf.State)
}

func TestServer_StatisticsAndAudit(t *testing.T) {
	s, e := setup(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, "VIN-5", nil)
	require.NoError(t, err)

	res, err := s.HandleStatistics(ctx, call(nil))
	require.NoError(t, err)
	var stats engine.Statistics
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &stats))
	assert.Equal(t, int64(1), stats.TotalWorkflows)

	res, err = s.HandleAuditLog(ctx, call(map[string]any{"limit": float64(1)}))
	require.NoError(t, err)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &entries))
	assert.Len(t, entries, 1)
	assert.Equal(t, domain.ChannelOrchestratorStatus, entries[0].Channel)

	res, err = s.HandleAuditLog(ctx, call(map[string]any{"limit": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
