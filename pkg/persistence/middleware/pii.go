package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/ports"
)

// Mask replaces the value of every masked key.
const Mask = "***"

type piiMiddleware struct {
	next     ports.WorkflowArchive
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching
// the patterns, anywhere in the workflow payload and stage results.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid mask pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.WorkflowArchive) ports.WorkflowArchive {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, workflow *domain.Workflow) error {
	// Snapshot so the engine's in-memory workflow keeps the real values.
	masked := workflow.Snapshot()
	m.mask(masked.Payload)
	for _, result := range masked.StageResults {
		m.mask(result)
	}
	return m.next.Save(ctx, &masked)
}

func (m *piiMiddleware) Load(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	return m.next.Load(ctx, workflowID)
}

func (m *piiMiddleware) Delete(ctx context.Context, workflowID string) error {
	return m.next.Delete(ctx, workflowID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) mask(values map[string]any) {
	for k, v := range values {
		if m.matches(k) {
			values[k] = Mask
			continue
		}
		m.maskValue(v)
	}
}

func (m *piiMiddleware) maskValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		m.mask(t)
	case []any:
		for _, item := range t {
			m.maskValue(item)
		}
	case []map[string]any:
		for _, item := range t {
			m.mask(item)
		}
	}
}
