package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aretw0/pitcrew/internal/logging"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pitcrew"

// Metrics holds every collector pitcrew exports.
type Metrics struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	BusMessages     *prometheus.CounterVec
	BusPanics       *prometheus.CounterVec
	Timeouts        *prometheus.CounterVec
	TimeoutsPending prometheus.Gauge
	Transitions     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	WorkflowsDone   *prometheus.CounterVec
	WorkflowTime    *prometheus.HistogramVec
}

// Option configures Metrics.
type Option func(*Metrics)

// WithLogger logs lifecycle events in addition to counting them.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Metrics) {
		m.logger = logger
	}
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics(opts ...Option) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logging.NewNop(),
		BusMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "messages_total",
				Help:      "Messages handled by the bus, by channel, priority and action",
			},
			[]string{"channel", "priority", "action"},
		),
		BusPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "delivery_panics_total",
				Help:      "Subscriber deliveries that panicked",
			},
			[]string{"channel"},
		),
		Timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "timeout",
				Name:      "events_total",
				Help:      "Timeout registrations and their outcome",
			},
			[]string{"event"},
		),
		TimeoutsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "timeout",
				Name:      "pending",
				Help:      "Messages awaiting acknowledgement",
			},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "transitions_total",
				Help:      "Executed workflow state transitions",
			},
			[]string{"from", "to"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "stage_duration_seconds",
				Help:      "Duration of agent stage executions",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"agent_kind"},
		),
		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "stage_failures_total",
				Help:      "Failed stage executions, by agent kind and cause",
			},
			[]string{"agent_kind", "cause"},
		),
		WorkflowsDone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "workflows_finished_total",
				Help:      "Workflows that reached a terminal state",
			},
			[]string{"state", "priority"},
		),
		WorkflowTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "workflow_duration_seconds",
				Help:      "Time from submission to terminal state",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"state"},
		),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.registry.MustRegister(
		m.BusMessages,
		m.BusPanics,
		m.Timeouts,
		m.TimeoutsPending,
		m.Transitions,
		m.StageDuration,
		m.StageFailures,
		m.WorkflowsDone,
		m.WorkflowTime,
	)
	return m
}

// Registry exposes the underlying registry, e.g. to add runtime collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MessagePublished implements bus.Observer.
func (m *Metrics) MessagePublished(channel string, priority domain.Priority) {
	m.BusMessages.WithLabelValues(channel, priority.String(), string(domain.AuditPublished)).Inc()
}

// MessageEvicted implements bus.Observer.
func (m *Metrics) MessageEvicted(channel string, priority domain.Priority) {
	m.BusMessages.WithLabelValues(channel, priority.String(), string(domain.AuditEvicted)).Inc()
}

// MessageConsumed implements bus.Observer.
func (m *Metrics) MessageConsumed(channel string, priority domain.Priority) {
	m.BusMessages.WithLabelValues(channel, priority.String(), string(domain.AuditConsumed)).Inc()
}

// DeliveryPanicked implements bus.Observer.
func (m *Metrics) DeliveryPanicked(channel string) {
	m.BusPanics.WithLabelValues(channel).Inc()
}

// TimeoutRegistered implements timeout.Observer.
func (m *Metrics) TimeoutRegistered() {
	m.Timeouts.WithLabelValues("registered").Inc()
	m.TimeoutsPending.Inc()
}

// TimeoutAcknowledged implements timeout.Observer.
func (m *Metrics) TimeoutAcknowledged() {
	m.Timeouts.WithLabelValues("acknowledged").Inc()
	m.TimeoutsPending.Dec()
}

// TimeoutExpired implements timeout.Observer.
func (m *Metrics) TimeoutExpired() {
	m.Timeouts.WithLabelValues("expired").Inc()
	m.TimeoutsPending.Dec()
}

// Hooks returns engine lifecycle hooks that record metrics and log events.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
		},
		OnStageStart: func(ctx context.Context, e *domain.StageEvent) {
			m.logger.Debug("stage_start",
				"workflow_id", e.WorkflowID,
				"agent_kind", string(e.AgentKind),
				"priority", e.Priority.String(),
			)
		},
		OnStageFinish: func(ctx context.Context, e *domain.StageEvent) {
			kind := string(e.AgentKind)
			m.StageDuration.WithLabelValues(kind).Observe(e.Duration.Seconds())
			if e.Err != nil {
				cause := "error"
				if e.TimedOut {
					cause = "timeout"
				}
				m.StageFailures.WithLabelValues(kind, cause).Inc()
			}
			m.logger.Debug("stage_finish",
				"workflow_id", e.WorkflowID,
				"agent_kind", kind,
				"duration", e.Duration,
				"timed_out", e.TimedOut,
			)
		},
		OnWorkflowDone: func(ctx context.Context, e *domain.WorkflowEvent) {
			m.WorkflowsDone.WithLabelValues(string(e.State), e.Priority.String()).Inc()
			m.WorkflowTime.WithLabelValues(string(e.State)).Observe(e.Duration.Seconds())
			m.logger.Info("workflow_done",
				"workflow_id", e.WorkflowID,
				"state", string(e.State),
				"duration", e.Duration,
			)
		},
	}
}
