package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWorkflowArchiveContract runs a suite of tests to verify that a WorkflowArchive
// implementation adheres to the defined interface contract.
func RunWorkflowArchiveContract(t *testing.T, archive WorkflowArchive) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405")

	newWorkflow := func(subject string) *domain.Workflow {
		wf := domain.NewWorkflow(subject+"-"+suffix, domain.PriorityHigh, 3, map[string]any{"brake_failure": true})
		wf.State = domain.StateCompleted
		wf.StateHistory = []domain.HistoryEntry{
			{From: domain.StatePending, To: domain.StateAnalyzingData, Reason: "submitted", Timestamp: time.Now()},
		}
		wf.StageResults[domain.AgentDiagnosis] = map[string]any{"failure_probability": 0.2}
		return wf
	}

	t.Run("Save and Load", func(t *testing.T) {
		// 1. Create a terminal workflow
		wf := newWorkflow("vehicle")

		// 2. Save
		err := archive.Save(ctx, wf)
		require.NoError(t, err, "Save should not return error")

		// 3. Load
		loaded, err := archive.Load(ctx, wf.ID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, wf.ID, loaded.ID)
		assert.Equal(t, wf.SubjectID, loaded.SubjectID)
		assert.Equal(t, domain.StateCompleted, loaded.State)
		assert.Equal(t, domain.PriorityHigh, loaded.Priority)
		require.Len(t, loaded.StateHistory, 1)
		assert.Equal(t, domain.StateAnalyzingData, loaded.StateHistory[0].To)
		// JSON backends turn numbers into float64; both sides agree here.
		assert.Equal(t, 0.2, loaded.StageResults[domain.AgentDiagnosis]["failure_probability"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := archive.Load(ctx, "non-existent-"+suffix)
		assert.ErrorIs(t, err, domain.ErrArchiveNotFound)
	})

	t.Run("Isolation", func(t *testing.T) {
		wf := newWorkflow("isolated")
		require.NoError(t, archive.Save(ctx, wf))

		wf.State = domain.StateFailed
		wf.StageResults[domain.AgentDiagnosis]["failure_probability"] = 0.9

		loaded, err := archive.Load(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCompleted, loaded.State)
		assert.Equal(t, 0.2, loaded.StageResults[domain.AgentDiagnosis]["failure_probability"])
	})

	t.Run("Delete", func(t *testing.T) {
		wf := newWorkflow("deleted")
		require.NoError(t, archive.Save(ctx, wf))

		err := archive.Delete(ctx, wf.ID)
		require.NoError(t, err, "Delete should not return error")

		_, err = archive.Load(ctx, wf.ID)
		assert.ErrorIs(t, err, domain.ErrArchiveNotFound, "Load after Delete should return ErrArchiveNotFound")

		assert.NoError(t, archive.Delete(ctx, wf.ID), "Delete should be idempotent")
	})

	t.Run("List", func(t *testing.T) {
		wf1 := newWorkflow("list-1")
		wf2 := newWorkflow("list-2")
		_ = archive.Save(ctx, wf1)
		_ = archive.Save(ctx, wf2)

		defer func() {
			_ = archive.Delete(ctx, wf1.ID)
			_ = archive.Delete(ctx, wf2.ID)
		}()

		ids, err := archive.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, wf1.ID)
		assert.Contains(t, ids, wf2.ID)
	})
}
