// Package server exposes the agent-core HTTP JSON API and the SSE
// event stream. Tenancy comes from the X-Tenant-Id header; requests
// without one operate on the "default" tenant.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/tradewire/agentcore/internal/engine"
	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/streaming"
	"github.com/tradewire/agentcore/internal/validation"
	"github.com/tradewire/agentcore/pkg/schema"
)

const defaultTenant = "default"

// DeliveryRetrier lets the API hand a cloned delivery straight to the
// retry worker. Satisfied by the webhook worker.
type DeliveryRetrier interface {
	Kick()
}

// EventPublisher fans an event out to the event log, live streams, and
// webhook deliveries. Satisfied by the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID, runID, eventType string, payload map[string]any)
}

// Deps holds the collaborators of the API server.
type Deps struct {
	Store        store.Store
	Orchestrator *engine.Orchestrator
	Policies     *policy.Resolver
	Hub          streaming.EventHub
	Events       EventPublisher
	Retrier      DeliveryRetrier
	Logger       *slog.Logger
}

// Server is the agent-core HTTP API server.
type Server struct {
	deps      Deps
	validator *validation.RequestValidator
	metrics   *requestMetrics
}

// NewServer creates a Server with pre-compiled request schemas.
func NewServer(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	validator, err := validation.NewRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Server{deps: deps, validator: validator, metrics: newRequestMetrics()}, nil
}

// Handler returns the HTTP handler with all API routes, wrapped in the
// request-metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/agent-core/workflows/run", s.handleRunWorkflow)
	mux.HandleFunc("GET /v1/agent-core/workflows/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/agent-core/workflows/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /v1/agent-core/workflows/runs/{id}/resume", s.handleResumeRun)

	mux.HandleFunc("POST /v1/agent-core/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("GET /v1/agent-core/webhooks", s.handleListWebhooks)
	mux.HandleFunc("POST /v1/agent-core/webhooks/{id}/test", s.handleTestWebhook)
	mux.HandleFunc("GET /v1/agent-core/webhooks/deliveries", s.handleListDeliveries)
	mux.HandleFunc("GET /v1/agent-core/webhooks/deliveries/{id}", s.handleGetDelivery)
	mux.HandleFunc("POST /v1/agent-core/webhooks/deliveries/{id}/retry", s.handleRetryDelivery)

	mux.HandleFunc("GET /v1/agent-core/policies", s.handleGetPolicy)
	mux.HandleFunc("PUT /v1/agent-core/policies", s.handlePutPolicy)

	mux.HandleFunc("GET /v1/agent-core/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/agent-core/metrics", s.handleMetrics)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withMetrics(mux)
}

func tenantID(r *http.Request) string {
	if id := r.Header.Get("X-Tenant-Id"); id != "" {
		return id
	}
	return defaultTenant
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to an HTTP status and writes it as a
// structured error body. AgentCoreError codes carry their own status;
// anything else is an internal error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var acErr *schema.AgentCoreError
	if !errors.As(err, &acErr) {
		s.deps.Logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"code": schema.ErrCodeExecution, "message": "internal error"},
		})
		return
	}
	status := errorStatus(acErr.Code)
	if status >= http.StatusInternalServerError {
		s.deps.Logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{"error": acErr})
}

func errorStatus(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryTime(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
