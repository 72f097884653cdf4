package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := registry.NewRegistry()
	r.Register(domain.AgentDiagnosis, func(_ context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"echo": payload["vehicle_id"]}, nil
	})

	out, err := r.Execute(context.Background(), domain.AgentDiagnosis, map[string]any{"vehicle_id": "V-1"})
	require.NoError(t, err)
	assert.Equal(t, "V-1", out["echo"])
	assert.True(t, r.Has(domain.AgentDiagnosis))
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := registry.NewRegistry()

	_, err := r.Execute(context.Background(), domain.AgentScheduling, nil)
	assert.ErrorIs(t, err, domain.ErrNoHandler)
	assert.Contains(t, err.Error(), "scheduling")
}

func TestRegistry_OverwriteAndUnregister(t *testing.T) {
	r := registry.NewRegistry()
	r.Register(domain.AgentFeedback, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"v": 1}, nil
	})
	r.Register(domain.AgentFeedback, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"v": 2}, nil
	})

	out, err := r.Execute(context.Background(), domain.AgentFeedback, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out["v"])

	r.Unregister(domain.AgentFeedback)
	assert.False(t, r.Has(domain.AgentFeedback))
}

func TestRegistry_Kinds(t *testing.T) {
	r := registry.NewRegistry()
	noop := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	r.Register(domain.AgentScheduling, noop)
	r.Register(domain.AgentDataAnalysis, noop)

	assert.Equal(t, []domain.AgentKind{domain.AgentDataAnalysis, domain.AgentScheduling}, r.Kinds())
}
