package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/pitcrew/pkg/adapters/memory"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryArchive_Contract(t *testing.T) {
	archive := memory.NewArchive()
	ports.RunWorkflowArchiveContract(t, archive)
}

func TestMemoryArchive_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	archive := memory.NewArchive()

	wf := domain.NewWorkflow("VIN-1", domain.PriorityLow, 3, nil)
	wf.ErrorLog = []domain.StageError{{Stage: domain.StateDiagnosis, Message: "boom"}}
	require.NoError(t, archive.Save(ctx, wf))

	first, err := archive.Load(ctx, wf.ID)
	require.NoError(t, err)
	first.ErrorLog[0].Message = "mutated"

	second, err := archive.Load(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", second.ErrorLog[0].Message)
	assert.Equal(t, 1, archive.Len())
}
