package engine

import (
	"log/slog"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/ports"
	"github.com/aretw0/pitcrew/pkg/registry"
)

// Defaults applied by New.
const (
	DefaultWorkers           = 4
	DefaultMaxRetries        = 3
	DefaultBackoffBase       = time.Second
	DefaultStageTimeout      = 30 * time.Second
	DefaultUrgencyThreshold  = 0.4
	DefaultCriticalThreshold = 0.7
	DefaultErrorBuffer       = 64
)

// Option configures the Engine.
type Option func(*Engine)

// WithWorkers sets the fixed worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMaxRetries bounds how many times a failing stage is retried.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoffBase sets the unit of the exponential retry delay (2^retryCount * base).
func WithBackoffBase(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoffBase = d
		}
	}
}

// WithStageTimeout sets the deadline of every dispatched stage.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// WithUrgencyThreshold sets the score above which a diagnosed vehicle enters engagement.
func WithUrgencyThreshold(v float64) Option {
	return func(e *Engine) {
		e.urgencyThreshold = v
	}
}

// WithCriticalThreshold sets the score above which a workflow is escalated to critical priority.
func WithCriticalThreshold(v float64) Option {
	return func(e *Engine) {
		e.criticalThreshold = v
	}
}

// WithArchive sets where terminal workflows are moved.
func WithArchive(archive ports.WorkflowArchive) Option {
	return func(e *Engine) {
		e.archive = archive
	}
}

// WithRegistry shares an existing agent registry.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithHooks attaches lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger configures a logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.errorBuffer = n
		}
	}
}
