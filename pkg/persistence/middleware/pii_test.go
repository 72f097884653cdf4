package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/pitcrew/pkg/adapters/memory"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewArchive()
	mw, err := middleware.NewPIIMiddleware([]string{"phone", "(?i)email"})
	require.NoError(t, err)
	archive := mw(underlying)

	wf := domain.NewWorkflow("VIN-PII", domain.PriorityNormal, 3, map[string]any{
		"customer": map[string]any{"name": "Jane Doe", "phone": "+1-555-0100"},
		"contacts": []any{map[string]any{"Email": "jane@example.com"}},
		"speed":    60,
	})
	wf.StageResults[domain.AgentCustomerEngagement] = map[string]any{"customer_phone": "+1-555-0100", "accepted": true}

	require.NoError(t, archive.Save(ctx, wf))

	customer := wf.Payload["customer"].(map[string]any)
	assert.Equal(t, "+1-555-0100", customer["phone"], "in-memory workflow untouched")

	stored, err := underlying.Load(ctx, wf.ID)
	require.NoError(t, err)
	storedCustomer := stored.Payload["customer"].(map[string]any)
	assert.Equal(t, middleware.Mask, storedCustomer["phone"])
	assert.Equal(t, "Jane Doe", storedCustomer["name"])
	assert.Equal(t, middleware.Mask, stored.Payload["contacts"].([]any)[0].(map[string]any)["Email"])
	assert.Equal(t, 60, stored.Payload["speed"])
	assert.Equal(t, middleware.Mask, stored.StageResults[domain.AgentCustomerEngagement]["customer_phone"])
	assert.Equal(t, true, stored.StageResults[domain.AgentCustomerEngagement]["accepted"])
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain_MasksBeforeSealing(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewArchive()
	mask, err := middleware.NewPIIMiddleware([]string{"phone"})
	require.NoError(t, err)
	seal, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	archive := middleware.Chain(underlying, mask, seal)
	wf := domain.NewWorkflow("VIN-CHAIN", domain.PriorityNormal, 3, map[string]any{"phone": "+1-555-0100"})
	require.NoError(t, archive.Save(ctx, wf))

	loaded, err := archive.Load(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.Payload["phone"])

	ids, err := archive.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{wf.ID}, ids)
}
