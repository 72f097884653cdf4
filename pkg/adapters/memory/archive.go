package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// Archive implements ports.WorkflowArchive in memory.
// Safe for concurrent use.
type Archive struct {
	data map[string]domain.Workflow
	mu   sync.RWMutex
}

// NewArchive creates an empty in-memory archive.
func NewArchive() *Archive {
	return &Archive{
		data: make(map[string]domain.Workflow),
	}
}

// Save stores a deep copy of the workflow.
func (a *Archive) Save(ctx context.Context, workflow *domain.Workflow) error {
	snap := workflow.Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[workflow.ID] = snap
	return nil
}

// Load returns a copy so callers can't mutate the archive through the pointer.
func (a *Archive) Load(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	wf, ok := a.data[workflowID]
	if !ok {
		return nil, domain.ErrArchiveNotFound
	}
	ret := wf.Snapshot()
	return &ret, nil
}

// Delete removes the workflow.
func (a *Archive) Delete(ctx context.Context, workflowID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, workflowID)
	return nil
}

// List returns archived IDs in lexical order. UUIDv7 IDs sort by creation time.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.data))
	for id := range a.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len reports the number of archived workflows.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
