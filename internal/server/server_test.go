package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/agentcore/internal/agents"
	"github.com/tradewire/agentcore/internal/engine"
	"github.com/tradewire/agentcore/internal/events"
	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/streaming"
	"github.com/tradewire/agentcore/internal/tools"
	"github.com/tradewire/agentcore/pkg/schema"
)

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	bus     *events.Bus
	hub     *streaming.MemoryHub
}

type kickRecorder struct{ kicks int }

func (k *kickRecorder) Kick() { k.kicks++ }

func newTestEnv(t *testing.T) (*testEnv, *kickRecorder) {
	t.Helper()
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	bus := events.NewBus(st, hub, nil, nil)

	breakers := tools.NewCircuitBreakerRegistry(tools.DefaultCircuitBreakerConfig())
	toolExec, err := tools.NewExecutor(st, breakers, nil, nil)
	require.NoError(t, err)

	reg := engine.NewStepRegistry()
	wf := engine.WorkflowNewPartnerImplementation
	reg.Register(wf, "integration_program", agents.IntegrationProgram)
	reg.Register(wf, "onboarding", agents.Onboarding)
	reg.Register(wf, "spec_analysis", agents.SpecAnalysis)
	reg.Register(wf, "mapping_engineer", agents.MappingEngineer)
	reg.Register(wf, "test_certification", agents.TestCertification)
	reg.Register(wf, "deployment_readiness", agents.DeploymentReadiness)
	reg.Register(wf, "standards_architecture", agents.StandardsArchitecture)
	reg.Register(wf, "post_production_escalation", agents.PostProductionEscalation)

	resolver := policy.NewResolver(st)
	orchestrator := engine.NewOrchestrator(st, resolver, toolExec, reg, bus, nil)

	kicker := &kickRecorder{}
	srv, err := NewServer(Deps{
		Store:        st,
		Orchestrator: orchestrator,
		Policies:     resolver,
		Hub:          hub,
		Events:       bus,
		Retrier:      kicker,
	})
	require.NoError(t, err)

	return &testEnv{handler: srv.Handler(), store: st, bus: bus, hub: hub}, kicker
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Tenant-Id", "acme")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error body, got %s", w.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func runRequestBody() map[string]any {
	return map[string]any{
		"workflow": engine.WorkflowNewPartnerImplementation,
		"adapter":  "canonical",
		"input": map[string]any{
			"projectId":           "proj-100",
			"projectName":         "Acme Foods EDI Implementation",
			"partnerName":         "Acme Foods",
			"connectionType":      "AS2",
			"targetDocumentTypes": []any{"purchase_order"},
			"documentType":        "purchase_order",
			"program": map[string]any{
				"milestones": []any{
					map[string]any{"name": "kickoff", "status": "complete"},
				},
			},
			"mappingIntent": []any{
				map[string]any{"targetField": "orderId", "sourceField": "OrderID", "required": true},
			},
			"test": map[string]any{
				"results": []any{map[string]any{"caseId": "t1", "status": "pass"}},
			},
			"deployment": map[string]any{
				"environment": "production",
				"checklist":   []any{map[string]any{"name": "runbook", "status": "complete"}},
				"approvals":   []any{map[string]any{"group": "ops", "status": "approved"}},
			},
			"standards": map[string]any{
				"checklist": []any{map[string]any{"ruleId": "STD-1", "passed": true}},
			},
			"postProduction": map[string]any{"enabled": false},
		},
	}
}

func TestHealth(t *testing.T) {
	env, _ := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestRunWorkflowEndToEnd(t *testing.T) {
	env, _ := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/agent-core/workflows/run", runRequestBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result schema.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Equal(t, schema.RecommendationProceed, result.Summary.GoLiveRecommendation)
	assert.Len(t, result.ExecutedSteps, 7)

	// The run shows up in the list and its detail carries steps and events.
	w = env.request(t, http.MethodGet, "/v1/agent-core/workflows/runs?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs, ok := decodeBody(t, w)["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)

	w = env.request(t, http.MethodGet, "/v1/agent-core/workflows/runs/"+result.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody(t, w)
	assert.NotEmpty(t, detail["steps"])
	assert.NotEmpty(t, detail["events"])
}

func TestRunWorkflowValidation(t *testing.T) {
	env, _ := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/agent-core/workflows/run", `{"workflow": "bogus", "adapter": "x", "input": {}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, schema.ErrCodeValidation, errorCode(t, w))

	w = env.request(t, http.MethodPost, "/v1/agent-core/workflows/run", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	env, _ := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/v1/agent-core/workflows/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, schema.ErrCodeNotFound, errorCode(t, w))
}

func TestResumeRun(t *testing.T) {
	env, _ := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/agent-core/workflows/run", runRequestBody())
	require.Equal(t, http.StatusOK, w.Code)
	var result schema.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	w = env.request(t, http.MethodPost,
		"/v1/agent-core/workflows/runs/"+result.RunID+"/resume",
		`{"fromStep": "deployment_readiness"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resumed schema.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resumed))
	assert.Equal(t, result.RunID, resumed.RunID)
	assert.Equal(t, []string{"deployment_readiness", "standards_architecture"}, resumed.ExecutedSteps)

	w = env.request(t, http.MethodPost, "/v1/agent-core/workflows/runs/nope/resume", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodPost,
		"/v1/agent-core/workflows/runs/"+result.RunID+"/resume", `{"fromStep": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookLifecycle(t *testing.T) {
	env, _ := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/agent-core/webhooks", map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"workflow.run.completed"},
		"secret": "s3cret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody(t, w)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, true, created["active"])
	// The secret never leaves the server.
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = env.request(t, http.MethodGet, "/v1/agent-core/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hooks, ok := decodeBody(t, w)["webhooks"].([]any)
	require.True(t, ok)
	assert.Len(t, hooks, 1)

	w = env.request(t, http.MethodPost, "/v1/agent-core/webhooks", `{"url": "ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookTestEndpoint(t *testing.T) {
	env, _ := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/v1/agent-core/webhooks", map[string]any{
		"url":    "https://example.com/hook",
		"events": []string{"*"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hookID, _ := decodeBody(t, w)["id"].(string)
	require.NotEmpty(t, hookID)

	w = env.request(t, http.MethodPost, "/v1/agent-core/webhooks/"+hookID+"/test", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody(t, w)["delivered"])

	// The test event went through the normal enqueue path.
	due, err := env.store.DueDeliveries(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, hookID, due[0].WebhookID)
	assert.Equal(t, schema.EventWebhookTest, due[0].EventType)

	w = env.request(t, http.MethodPost, "/v1/agent-core/webhooks/missing/test", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsSnapshot(t *testing.T) {
	env, _ := newTestEnv(t)

	env.request(t, http.MethodGet, "/health", nil)
	env.request(t, http.MethodGet, "/v1/agent-core/workflows/runs/missing", nil)

	w := env.request(t, http.MethodGet, "/v1/agent-core/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "agent-core", body["service"])

	httpStats, ok := body["http"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), httpStats["requestTotal"])
	assert.Equal(t, float64(1), httpStats["requestErrors"])

	counts, ok := httpStats["requestCounts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), counts["GET /health"])
	// Run IDs collapse into one bucket.
	assert.Equal(t, float64(1), counts["GET /v1/agent-core/workflows/runs/{id}"])

	statuses, ok := httpStats["statusCounts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), statuses["200"])
	assert.Equal(t, float64(1), statuses["404"])
}

func TestDeliveryEndpoints(t *testing.T) {
	env, kicker := newTestEnv(t)
	ctx := context.Background()

	w := env.request(t, http.MethodPost, "/v1/agent-core/webhooks", map[string]any{
		"url": "https://example.com/hook",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Publishing through the bus enqueues a pending delivery.
	env.bus.Publish(ctx, "acme", "run-1", schema.EventRunCompleted, map[string]any{"status": "completed"})

	w = env.request(t, http.MethodGet, "/v1/agent-core/webhooks/deliveries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	deliveries, ok := decodeBody(t, w)["deliveries"].([]any)
	require.True(t, ok)
	require.Len(t, deliveries, 1)
	id, _ := deliveries[0].(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	w = env.request(t, http.MethodGet, "/v1/agent-core/webhooks/deliveries/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["status"])

	w = env.request(t, http.MethodPost, "/v1/agent-core/webhooks/deliveries/"+id+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	clone := decodeBody(t, w)
	assert.NotEqual(t, id, clone["id"])
	assert.Equal(t, "pending", clone["status"])
	assert.Equal(t, float64(0), clone["attempt"])
	assert.Equal(t, 1, kicker.kicks)

	w = env.request(t, http.MethodGet, "/v1/agent-core/webhooks/deliveries/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolicyEndpoints(t *testing.T) {
	env, _ := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/v1/agent-core/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["version"])

	w = env.request(t, http.MethodPut, "/v1/agent-core/policies", map[string]any{
		"executionDefaults": map[string]any{"approvalMode": "execute", "executeTools": true},
		"retryPolicy":       map[string]any{"maxAttempts": 5, "backoffMs": 250},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored := decodeBody(t, w)
	assert.Equal(t, float64(1), stored["version"])
	assert.Equal(t, true, stored["active"])

	w = env.request(t, http.MethodGet, "/v1/agent-core/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, float64(1), body["version"])
	pol, _ := body["policy"].(map[string]any)
	retry, _ := pol["retryPolicy"].(map[string]any)
	assert.Equal(t, float64(5), retry["maxAttempts"])

	w = env.request(t, http.MethodPut, "/v1/agent-core/policies", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventStreamSSE(t *testing.T) {
	env, _ := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/agent-core/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-Id", "acme")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		// Give the subscription a moment to register before publishing.
		time.Sleep(100 * time.Millisecond)
		env.bus.Publish(context.Background(), "acme", "run-1", schema.EventRunCompleted, map[string]any{"status": "completed"})
	}()

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}

	assert.Equal(t, fmt.Sprintf("event: %s", schema.EventRunCompleted), eventLine)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &payload))
	assert.Equal(t, "run-1", payload["runId"])
}

func TestTenantHeaderDefaults(t *testing.T) {
	env, _ := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/agent-core/workflows/runs", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
