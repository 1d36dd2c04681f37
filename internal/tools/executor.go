package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/pkg/schema"
)

// Executor runs tool contracts through the gate/transform/dispatch
// pipeline. Tool failures are recorded, never propagated: a step's
// outcome does not depend on its tools.
type Executor struct {
	store    store.Store
	breakers *CircuitBreakerRegistry
	backends map[string]Backend
	adapters *AdapterRegistry
	handlers map[string]PayloadHandler
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the built-in handlers, adapters,
// and backends.
func NewExecutor(s store.Store, breakers *CircuitBreakerRegistry, client *http.Client, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	adapters, err := NewAdapterRegistry()
	if err != nil {
		return nil, err
	}
	return &Executor{
		store:    s,
		breakers: breakers,
		backends: NewBackendSet(client),
		adapters: adapters,
		handlers: builtinHandlers(),
		logger:   logger,
	}, nil
}

// Request carries everything needed to execute one step's tool contracts.
type Request struct {
	TenantID  string
	RunID     string
	AdapterID string
	Contracts []schema.ToolContract
	Context   HandlerContext
	Execution schema.ExecutionConfig
	Retry     schema.RetryPolicy
	Backends  map[string]policy.BackendConfig
}

// ExecuteContracts executes each contract in order and returns one result
// per contract.
func (e *Executor) ExecuteContracts(ctx context.Context, req Request) []schema.ToolResult {
	results := make([]schema.ToolResult, 0, len(req.Contracts))
	adapter := e.adapters.Get(req.AdapterID)

	for _, contract := range req.Contracts {
		results = append(results, e.executeContract(ctx, req, adapter, contract))
	}
	return results
}

func (e *Executor) executeContract(ctx context.Context, req Request, adapter *Adapter, contract schema.ToolContract) schema.ToolResult {
	if !req.Execution.ExecuteTools {
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusDryRun, Reason: "tool execution disabled"}
	}
	if !req.Execution.ToolEnabled(contract.Tool) {
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusSkipped, Reason: "tool not enabled for this run"}
	}

	handler, ok := e.handlers[contract.Tool]
	if !ok {
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusUnsupported, Reason: "no registered payload handler"}
	}

	payload := pickFields(handler(req.Context), contract.RequiredInputs)
	transformed, err := adapter.Transform(payload)
	if err != nil {
		e.deadLetter(ctx, req, contract.Tool, payload, err)
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusFailed, Reason: err.Error()}
	}

	backendCfg, ok := req.Backends[contract.Tool]
	if !ok {
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusUnsupported, Reason: "no backend configured for tool", Payload: transformed}
	}
	backend, ok := e.backends[backendCfg.Type]
	if !ok {
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusUnsupported,
			Reason: "unknown backend type: " + backendCfg.Type, Payload: transformed}
	}

	if err := e.breakers.AllowRequest(contract.Tool); err != nil {
		e.deadLetter(ctx, req, contract.Tool, transformed, err)
		return schema.ToolResult{Tool: contract.Tool, Status: schema.ToolStatusFailed, Reason: err.Error(), Payload: transformed}
	}

	return e.dispatch(ctx, req, backend, backendCfg, contract.Tool, transformed)
}

// dispatch calls the backend with bounded linear-backoff retries. A result
// of executed or skipped is success and resets the breaker; anything else
// counts as a failure.
func (e *Executor) dispatch(ctx context.Context, req Request, backend Backend, cfg policy.BackendConfig, tool string, payload map[string]any) schema.ToolResult {
	var lastReason string

	maxAttempts := req.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := backend.Call(ctx, cfg, payload)
		if err == nil && res.Status != schema.ToolStatusFailed {
			e.breakers.RecordSuccess(tool)
			return schema.ToolResult{Tool: tool, Status: res.Status, Reason: res.Reason, Payload: payload, Response: res.Response}
		}

		if err != nil {
			lastReason = err.Error()
		} else {
			lastReason = res.Reason
		}
		e.breakers.RecordFailure(tool)
		e.logger.WarnContext(ctx, "tool backend call failed",
			slog.String("tool", tool),
			slog.Int("attempt", attempt),
			slog.String("reason", lastReason),
		)

		if attempt < maxAttempts {
			if waitErr := waitBackoff(ctx, req.Retry, attempt); waitErr != nil {
				lastReason = waitErr.Error()
				break
			}
		}
	}

	dlErr := schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"tool %s failed after %d attempts: %s", tool, maxAttempts, lastReason)
	e.deadLetter(ctx, req, tool, payload, dlErr)
	return schema.ToolResult{Tool: tool, Status: schema.ToolStatusFailed, Reason: lastReason, Payload: payload}
}

// deadLetter records an undeliverable tool payload. Dead-letter writes are
// best effort; a store failure here must not mask the tool outcome.
func (e *Executor) deadLetter(ctx context.Context, req Request, tool string, payload map[string]any, cause error) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	dl := &store.ToolDeadLetter{
		TenantID: req.TenantID,
		RunID:    req.RunID,
		Tool:     tool,
		Payload:  data,
		Error:    cause.Error(),
	}
	if err := e.store.CreateDeadLetter(ctx, dl); err != nil {
		e.logger.ErrorContext(ctx, "failed to write tool dead letter",
			slog.String("tool", tool),
			slog.String("error", err.Error()),
		)
	}
}

func waitBackoff(ctx context.Context, retry schema.RetryPolicy, attempt int) error {
	delay := time.Duration(retry.BackoffMs) * time.Millisecond * time.Duration(attempt)
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
