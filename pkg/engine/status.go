package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// Statistics summarizes the engine's activity since construction.
type Statistics struct {
	TotalWorkflows    int64                `json:"total_workflows"`
	Active            int                  `json:"active"`
	ByState           map[domain.State]int `json:"by_state"`
	QueueDepth        int                  `json:"queue_depth"`
	Completed         int64                `json:"completed"`
	Failed            int64                `json:"failed"`
	UrgentHandled     int64                `json:"urgent_handled"`
	AverageCompletion time.Duration        `json:"average_completion"`
}

type stats struct {
	total         atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
	urgentHandled atomic.Int64
	durationSum   atomic.Int64

	mu      sync.Mutex
	byState map[domain.State]int
}

func (s *stats) enter(state domain.State) {
	s.mu.Lock()
	s.byState[state]++
	s.mu.Unlock()
}

func (s *stats) move(from, to domain.State) {
	s.mu.Lock()
	if s.byState[from] > 0 {
		s.byState[from]--
	}
	s.byState[to]++
	s.mu.Unlock()
}

func (s *stats) recordCompletion(d time.Duration) {
	s.completed.Add(1)
	s.durationSum.Add(int64(d))
}

// Statistics returns a snapshot of the engine counters. ByState counts every
// workflow ever submitted by its current or final state.
func (e *Engine) Statistics() Statistics {
	e.stats.mu.Lock()
	byState := make(map[domain.State]int, len(e.stats.byState))
	for k, v := range e.stats.byState {
		if v > 0 {
			byState[k] = v
		}
	}
	e.stats.mu.Unlock()

	e.mu.RLock()
	active := len(e.workflows)
	e.mu.RUnlock()

	out := Statistics{
		TotalWorkflows: e.stats.total.Load(),
		Active:         active,
		ByState:        byState,
		QueueDepth:     e.queue.Len(),
		Completed:      e.stats.completed.Load(),
		Failed:         e.stats.failed.Load(),
		UrgentHandled:  e.stats.urgentHandled.Load(),
	}
	if out.Completed > 0 {
		out.AverageCompletion = time.Duration(e.stats.durationSum.Load() / out.Completed)
	}
	return out
}

// StatusOf returns a consistent snapshot of workflow id, active or archived.
func (e *Engine) StatusOf(ctx context.Context, id string) (domain.Workflow, error) {
	var (
		snap  domain.Workflow
		found bool
	)
	e.locks.Do(id, func() {
		if rec := e.lookup(id); rec != nil {
			snap = rec.wf.Snapshot()
			found = true
		}
	})
	if found {
		return snap, nil
	}

	wf, err := e.archive.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrArchiveNotFound) {
			return domain.Workflow{}, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
		}
		return domain.Workflow{}, fmt.Errorf("failed to load archived workflow: %w", err)
	}
	return wf.Snapshot(), nil
}

// ActiveWorkflows lists the IDs of workflows that have not reached a terminal state.
func (e *Engine) ActiveWorkflows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		ids = append(ids, id)
	}
	return ids
}
