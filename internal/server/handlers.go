package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tradewire/agentcore/internal/engine"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/streaming"
	"github.com/tradewire/agentcore/pkg/schema"
)

const maxRequestBody = 1 * 1024 * 1024 // 1MB

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to read request body").WithCause(err)
	}
	return body, nil
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validator.ValidateRun(body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Workflow string         `json:"workflow"`
		Adapter  string         `json:"adapter"`
		Input    map[string]any `json:"input"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err))
		return
	}

	result, err := s.deps.Orchestrator.Run(r.Context(), engine.RunRequest{
		TenantID: tenantID(r),
		Workflow: req.Workflow,
		Adapter:  req.Adapter,
		Input:    req.Input,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		ProjectID: r.URL.Query().Get("projectId"),
		From:      queryTime(r, "from"),
		To:        queryTime(r, "to"),
		Limit:     queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), tenantID(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*store.WorkflowRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Store.GetRunDetail(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	if err := s.validator.ValidateResume(body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		FromStep    string                    `json:"fromStep"`
		Execution   *schema.ExecutionOverride `json:"execution"`
		RetryPolicy *schema.RetryPolicy       `json:"retryPolicy"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err))
		return
	}

	result, err := s.deps.Orchestrator.Resume(r.Context(), engine.ResumeRequest{
		TenantID:  tenantID(r),
		RunID:     r.PathValue("id"),
		FromStep:  req.FromStep,
		Execution: req.Execution,
		Retry:     req.RetryPolicy,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validator.ValidateWebhook(body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
		Active *bool    `json:"active"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err))
		return
	}

	sub := &store.WebhookSubscription{
		ID:       uuid.NewString(),
		TenantID: tenantID(r),
		URL:      req.URL,
		Secret:   req.Secret,
		Events:   req.Events,
		Active:   req.Active == nil || *req.Active,
	}
	if err := s.deps.Store.CreateWebhook(r.Context(), sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Store.ListWebhooks(r.Context(), tenantID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*store.WebhookSubscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": subs})
}

// handleTestWebhook publishes a webhook.test event for the subscription
// so its endpoint receives a real signed delivery through the normal
// dispatch path.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	id := r.PathValue("id")
	if _, err := s.deps.Store.GetWebhook(r.Context(), tenant, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Events.Publish(r.Context(), tenant, "", schema.EventWebhookTest, map[string]any{
		"webhookId": id,
		"tenantId":  tenant,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, map[string]any{"delivered": true})
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	filter := store.DeliveryFilter{
		Status:    r.URL.Query().Get("status"),
		EventType: r.URL.Query().Get("eventType"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	deliveries, err := s.deps.Store.ListDeliveries(r.Context(), tenantID(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*store.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Store.GetDelivery(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRetryDelivery clones the delivery as a fresh pending record and
// wakes the retry worker. The original keeps its terminal status.
func (s *Server) handleRetryDelivery(w http.ResponseWriter, r *http.Request) {
	clone, err := s.deps.Store.CloneDeliveryForRetry(r.Context(), tenantID(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Retrier != nil {
		s.deps.Retrier.Kick()
	}
	writeJSON(w, http.StatusAccepted, clone)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	effective, err := s.deps.Policies.ForTenant(r.Context(), tenant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	version := 0
	if stored, err := s.deps.Store.GetActivePolicy(r.Context(), tenant); err == nil {
		version = stored.Version
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenant,
		"version":  version,
		"policy":   effective,
	})
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stored, err := s.deps.Policies.Activate(r.Context(), tenantID(r), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// handleEventStream streams tenant-scoped events as Server-Sent Events,
// one "event:" + "data:" frame per published event.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	filter := streaming.EventFilter{
		TenantID: tenantID(r),
		RunID:    r.URL.Query().Get("runId"),
	}
	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
