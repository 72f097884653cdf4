// Package http exposes workflow status, statistics and the bus audit trail
// over a small JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/pitcrew/internal/logging"
	"github.com/aretw0/pitcrew/internal/presentation/graph"
	"github.com/aretw0/pitcrew/internal/sanitize"
	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mitchellh/mapstructure"
)

// DefaultAuditLimit is used when GET /bus/audit has no limit parameter.
const DefaultAuditLimit = 100

// Engine is the part of the workflow engine the API serves.
type Engine interface {
	Submit(ctx context.Context, subjectID string, payload map[string]any) (string, error)
	StatusOf(ctx context.Context, id string) (domain.Workflow, error)
	MarkInService(ctx context.Context, id string) error
	SubmitFeedback(ctx context.Context, id string, feedback map[string]any) error
	Statistics() engine.Statistics
}

// Bus is the part of the message bus the API serves.
type Bus interface {
	Stats() bus.Stats
	AuditLog(limit int) []domain.AuditEntry
	Subscribe(channel string, sub bus.Subscriber)
	Unsubscribe(channel string, sub bus.Subscriber)
}

// Server serves the status API.
type Server struct {
	engine  Engine
	bus     Bus
	streams *StreamManager
	metrics http.Handler
	version string
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates the server and subscribes it to workflow status updates.
// Call Close to detach it from the bus.
func New(eng Engine, b Bus, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		bus:     b,
		version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streams = NewStreamManager(s.logger)
	b.Subscribe(domain.ChannelOrchestratorStatus, s)
	return s
}

// Close detaches the server from the bus.
func (s *Server) Close() {
	s.bus.Unsubscribe(domain.ChannelOrchestratorStatus, s)
}

// SubscriberID implements bus.Subscriber.
func (s *Server) SubscriberID() string { return "http.status-stream" }

// Deliver implements bus.Subscriber by forwarding status messages to SSE clients.
func (s *Server) Deliver(_ context.Context, msg domain.Message) {
	id, _ := msg.Payload[domain.KeyWorkflowID].(string)
	if id == "" {
		return
	}
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		s.logger.Error("failed to encode status update", "workflow_id", id, "err", err)
		return
	}
	s.streams.Broadcast(id, string(data))
}

// Streams exposes the SSE fan-out.
func (s *Server) Streams() *StreamManager { return s.streams }

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.SubmitWorkflow)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetWorkflow)
			r.Get("/graph", s.GetWorkflowGraph)
			r.Get("/events", s.SubscribeEvents)
			r.Post("/in-service", s.MarkInService)
			r.Post("/feedback", s.SubmitFeedback)
		})
	})

	r.Get("/graph", s.GetGraph)
	r.Get("/statistics", s.GetStatistics)
	r.Get("/bus/stats", s.GetBusStats)
	r.Get("/bus/audit", s.GetAuditLog)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrWorkflowNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEngineStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "pitcrew",
		"version": s.version,
	})
}

// SubmitRequest is the body of POST /workflows. When Payload is absent the
// whole body is taken as the vehicle payload.
type SubmitRequest struct {
	SubjectID string         `mapstructure:"subject_id"`
	VehicleID string         `mapstructure:"vehicle_id"`
	Payload   map[string]any `mapstructure:"payload"`
}

func decodeBody(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return body, nil
}

// SubmitWorkflow handles POST /workflows.
func (s *Server) SubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var req SubmitRequest
	if err := mapstructure.WeakDecode(body, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request fields: " + err.Error()})
		return
	}

	subject := req.SubjectID
	if subject == "" {
		subject = req.VehicleID
	}
	subject, err = sanitize.ID(subject)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "subject_id or vehicle_id: " + err.Error()})
		return
	}
	payload := req.Payload
	if payload == nil {
		payload = body
	}

	id, err := s.engine.Submit(r.Context(), subject, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("workflow submitted over http", "workflow_id", id, "subject_id", subject)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
}

// GetWorkflow handles GET /workflows/{id}.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.engine.StatusOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

// GetGraph handles GET /graph: the state machine as a Mermaid flowchart.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, graph.GenerateMermaid(domain.Transitions, nil))
}

// GetWorkflowGraph handles GET /workflows/{id}/graph, highlighting the
// workflow's path and current state.
func (s *Server) GetWorkflowGraph(w http.ResponseWriter, r *http.Request) {
	wf, err := s.engine.StatusOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, graph.GenerateMermaid(domain.Transitions, graph.OverlayFor(wf)))
}

// MarkInService handles POST /workflows/{id}/in-service.
func (s *Server) MarkInService(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.MarkInService(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitFeedback handles POST /workflows/{id}/feedback.
func (s *Server) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.engine.SubmitFeedback(r.Context(), chi.URLParam(r, "id"), body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetStatistics handles GET /statistics.
func (s *Server) GetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Statistics())
}

// GetBusStats handles GET /bus/stats.
func (s *Server) GetBusStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bus.Stats())
}

// GetAuditLog handles GET /bus/audit?limit=N.
func (s *Server) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := DefaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.bus.AuditLog(limit))
}

// SubscribeEvents handles GET /workflows/{id}/events (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	id := chi.URLParam(r, "id")

	ch, cancel := s.streams.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "workflow_id", id)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
