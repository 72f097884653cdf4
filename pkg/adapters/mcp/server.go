// Package mcp exposes the workflow engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/pitcrew/internal/logging"
	"github.com/aretw0/pitcrew/internal/presentation/graph"
	"github.com/aretw0/pitcrew/internal/sanitize"
	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	statisticsURI = "pitcrew://statistics"
	graphURI      = "pitcrew://graph"
)

// Engine is the part of the workflow engine exposed as tools.
type Engine interface {
	Submit(ctx context.Context, subjectID string, payload map[string]any) (string, error)
	StatusOf(ctx context.Context, id string) (domain.Workflow, error)
	MarkInService(ctx context.Context, id string) error
	SubmitFeedback(ctx context.Context, id string, feedback map[string]any) error
	Statistics() engine.Statistics
}

// Bus is the part of the message bus exposed as tools.
type Bus interface {
	Stats() bus.Stats
	AuditLog(limit int) []domain.AuditEntry
}

// Server wraps the engine and bus as an MCP server.
type Server struct {
	engine    Engine
	bus       Bus
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(eng Engine, b Bus, version string, opts ...Option) *Server {
	s := &Server{
		engine:    eng,
		bus:       b,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("pitcrew-mcp", version),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	s.registerGraph()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("submit_workflow",
		mcp.WithDescription("Start a maintenance workflow for a vehicle from its telemetry."),
		mcp.WithString("vehicle_id", mcp.Required(), mcp.Description("Vehicle identifier")),
		mcp.WithString("payload", mcp.Description("JSON object with the vehicle telemetry (optional)")),
	), s.HandleSubmit)

	s.mcpServer.AddTool(mcp.NewTool("workflow_status",
		mcp.WithDescription("Get the state, history and stage results of a workflow."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID returned by submit_workflow")),
	), s.HandleStatus)

	s.mcpServer.AddTool(mcp.NewTool("mark_in_service",
		mcp.WithDescription("Record that the vehicle of a scheduled workflow arrived at the service center."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
	), s.HandleMarkInService)

	s.mcpServer.AddTool(mcp.NewTool("submit_feedback",
		mcp.WithDescription("Attach post-service feedback to a workflow in service."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
		mcp.WithString("feedback", mcp.Required(), mcp.Description("JSON object with the customer feedback")),
	), s.HandleFeedback)

	s.mcpServer.AddTool(mcp.NewTool("statistics",
		mcp.WithDescription("Get workflow engine statistics."),
	), s.HandleStatistics)

	s.mcpServer.AddTool(mcp.NewTool("bus_stats",
		mcp.WithDescription("Get message bus channel and subscriber counts."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(s.bus.Stats())
	})

	s.mcpServer.AddTool(mcp.NewTool("audit_log",
		mcp.WithDescription("Get the newest entries of the message bus audit trail."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 50)")),
	), s.HandleAuditLog)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(statisticsURI, "Workflow Engine Statistics",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.engine.Statistics())
		if err != nil {
			return nil, fmt.Errorf("failed to encode statistics: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      statisticsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func (s *Server) registerGraph() {
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Workflow State Machine",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "text/plain",
				Text:     graph.GenerateMermaid(domain.Transitions, nil),
			},
		}, nil
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func decodeObject(raw, field string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %w", field, err)
	}
	return obj, nil
}

// HandleSubmit implements the submit_workflow tool.
func (s *Server) HandleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vehicleID, err := request.RequireString("vehicle_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if vehicleID, err = sanitize.ID(vehicleID); err != nil {
		return mcp.NewToolResultError("vehicle_id: " + err.Error()), nil
	}
	payload, err := decodeObject(request.GetString("payload", ""), "payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := s.engine.Submit(ctx, vehicleID, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}
	s.logger.Info("workflow submitted over mcp", "workflow_id", id, "vehicle_id", vehicleID)
	return jsonResult(map[string]string{"workflow_id": id})
}

// HandleStatus implements the workflow_status tool.
func (s *Server) HandleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	wf, err := s.engine.StatusOf(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(wf)
}

// HandleMarkInService implements the mark_in_service tool.
func (s *Server) HandleMarkInService(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.MarkInService(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("in service"), nil
}

// HandleFeedback implements the submit_feedback tool.
func (s *Server) HandleFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := request.RequireString("feedback")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	feedback, err := decodeObject(raw, "feedback")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.SubmitFeedback(ctx, id, feedback); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("feedback accepted"), nil
}

// HandleStatistics implements the statistics tool.
func (s *Server) HandleStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Statistics())
}

// HandleAuditLog implements the audit_log tool.
func (s *Server) HandleAuditLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 50)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	return jsonResult(s.bus.AuditLog(limit))
}
