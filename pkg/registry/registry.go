package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// Handler defines the signature for an agent implementation.
// It receives a context and the stage payload, and returns the stage result or an error.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry maps agent kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.AgentKind]Handler
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.AgentKind]Handler),
	}
}

// Register adds a handler to the registry.
// If a handler for the same kind exists, it is overwritten.
func (r *Registry) Register(kind domain.AgentKind, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Unregister removes the handler for kind, if any.
func (r *Registry) Unregister(kind domain.AgentKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// Lookup returns the handler registered for kind.
func (r *Registry) Lookup(kind domain.AgentKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[kind]
	return fn, ok
}

// Has reports whether a handler is registered for kind.
func (r *Registry) Has(kind domain.AgentKind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Execute looks up the handler for kind and executes it.
// Returns an error wrapping domain.ErrNoHandler if the kind is not registered.
func (r *Registry) Execute(ctx context.Context, kind domain.AgentKind, payload map[string]any) (map[string]any, error) {
	fn, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoHandler, kind)
	}
	return fn(ctx, payload)
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []domain.AgentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.AgentKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
