package tools

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/pkg/schema"
)

const (
	defaultBackendTimeout  = 10 * time.Second
	maxBackendResponseBody = 1 * 1024 * 1024 // 1MB
)

// BackendResult is the outcome of one backend call. Status executed and
// skipped count as success for circuit breaker purposes; failed does not.
type BackendResult struct {
	Status   schema.ToolStatus
	Reason   string
	Response any
}

// Backend dispatches a transformed tool payload to an external system.
// Transport-level failures return an error; application-level outcomes
// (including skipped and failed) are reported in the result.
type Backend interface {
	Call(ctx context.Context, cfg policy.BackendConfig, payload map[string]any) (*BackendResult, error)
}

// NewBackendSet returns the built-in backends keyed by config type.
func NewBackendSet(client *http.Client) map[string]Backend {
	if client == nil {
		client = &http.Client{}
	}
	return map[string]Backend{
		policy.BackendHTTPJSON: &HTTPJSONBackend{client: client},
		policy.BackendCleoCIC:  &CleoCICBackend{client: client},
	}
}

// HTTPJSONBackend POSTs the payload as JSON to a configured URL with
// optional bearer auth and an optional HMAC-SHA256 body signature.
type HTTPJSONBackend struct {
	client *http.Client
}

func (b *HTTPJSONBackend) Call(ctx context.Context, cfg policy.BackendConfig, payload map[string]any) (*BackendResult, error) {
	if cfg.URL == "" {
		return &BackendResult{Status: schema.ToolStatusSkipped, Reason: "missing backend url"}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeToolBackend, "marshal backend payload").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, backendTimeout(cfg))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeToolBackend, "build backend request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	if cfg.SigningSecret != "" {
		req.Header.Set("X-AgentCore-Signature", signBody(cfg.SigningSecret, body))
	}

	return doBackendCall(b.client, req, "backend call failed")
}

// CleoCICBackend calls the partner platform API, mapping the configured
// operation to its endpoint path.
type CleoCICBackend struct {
	client *http.Client
}

func operationPath(operation string) string {
	switch operation {
	case "apply_mapping":
		return "/api/v1/mappings/apply"
	case "execute_test_suite":
		return "/api/v1/tests/execute"
	default:
		return "/api/v1/tools/execute"
	}
}

func (b *CleoCICBackend) Call(ctx context.Context, cfg policy.BackendConfig, payload map[string]any) (*BackendResult, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return &BackendResult{Status: schema.ToolStatusSkipped, Reason: "missing cleo_cic baseUrl or token"}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeToolBackend, "marshal backend payload").WithCause(err)
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + operationPath(cfg.Operation)

	reqCtx, cancel := context.WithTimeout(ctx, backendTimeout(cfg))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeToolBackend, "build backend request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	if cfg.Tenant != "" {
		req.Header.Set("X-CIC-Tenant", cfg.Tenant)
	}

	return doBackendCall(b.client, req, "cleo cic call failed")
}

func doBackendCall(client *http.Client, req *http.Request, failurePrefix string) (*BackendResult, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolBackend, "%s: %v", failurePrefix, err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeToolBackend, "read backend response").WithCause(err)
	}

	var parsed any
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			parsed = string(bodyBytes)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendResult{
			Status:   schema.ToolStatusFailed,
			Reason:   fmt.Sprintf("%s: %d", failurePrefix, resp.StatusCode),
			Response: parsed,
		}, nil
	}

	return &BackendResult{Status: schema.ToolStatusExecuted, Response: parsed}, nil
}

func backendTimeout(cfg policy.BackendConfig) time.Duration {
	if cfg.TimeoutMs > 0 {
		return time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	return defaultBackendTimeout
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
