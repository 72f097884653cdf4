package ports

import (
	"context"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// WorkflowArchive stores workflows that left the engine's active set.
type WorkflowArchive interface {
	// Save persists the workflow under its ID, replacing any previous record.
	Save(ctx context.Context, workflow *domain.Workflow) error

	// Load retrieves an archived workflow.
	// Returns domain.ErrArchiveNotFound if the ID is unknown.
	Load(ctx context.Context, workflowID string) (*domain.Workflow, error)

	// Delete removes the archived workflow. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, workflowID string) error

	// List returns the IDs of archived workflows.
	List(ctx context.Context) ([]string, error)
}
