package policy

import (
	"fmt"
	"time"

	"github.com/tradewire/agentcore/pkg/schema"
)

// Policy is a tenant's effective policy document. Tenant-stored policies
// are partial JSON documents overlaid onto the static defaults.
type Policy struct {
	ExecutionDefaults ExecutionDefaults        `json:"executionDefaults"`
	RetryPolicy       schema.RetryPolicy       `json:"retryPolicy"`
	RequiredApprovals map[string][]string      `json:"requiredApprovals,omitempty"`
	ToolBackends      map[string]BackendConfig `json:"toolBackends,omitempty"`
	Webhooks          WebhookPolicy            `json:"webhooks"`
	CircuitBreaker    BreakerPolicy            `json:"circuitBreaker"`
}

// ExecutionDefaults are the tenant-level defaults applied when a run
// request leaves execution fields unset.
type ExecutionDefaults struct {
	ApprovalMode string `json:"approvalMode"`
	ExecuteTools bool   `json:"executeTools"`
}

// BackendConfig declares how a tool reaches its backend. Type selects the
// backend implementation; the remaining fields depend on it.
type BackendConfig struct {
	Type          string `json:"type"`
	URL           string `json:"url,omitempty"`
	AuthToken     string `json:"authToken,omitempty"`
	SigningSecret string `json:"signingSecret,omitempty"`
	BaseURL       string `json:"baseUrl,omitempty"`
	Token         string `json:"token,omitempty"`
	Tenant        string `json:"tenant,omitempty"`
	Operation     string `json:"operation,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

// Backend type discriminators for BackendConfig.Type.
const (
	BackendHTTPJSON = "http_json"
	BackendCleoCIC  = "cleo_cic"
)

// WebhookPolicy bounds webhook delivery retries per tenant.
type WebhookPolicy struct {
	MaxAttempts int `json:"maxAttempts"`
	BackoffMs   int `json:"backoffMs"`
	TimeoutMs   int `json:"timeoutMs"`
}

// Timeout returns the per-attempt HTTP timeout.
func (w WebhookPolicy) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// BreakerPolicy configures the tool circuit breaker.
type BreakerPolicy struct {
	FailureThreshold int `json:"failureThreshold"`
	CooldownMs       int `json:"cooldownMs"`
}

// Cooldown returns the open-circuit cooldown window.
func (b BreakerPolicy) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

// Defaults returns the static base policy every tenant starts from.
func Defaults() Policy {
	return Policy{
		ExecutionDefaults: ExecutionDefaults{
			ApprovalMode: schema.ApprovalModeProposeOnly,
			ExecuteTools: false,
		},
		RetryPolicy: schema.RetryPolicy{MaxAttempts: 3, BackoffMs: 250},
		RequiredApprovals: map[string][]string{
			"new_partner_implementation": {schema.ScopeWorkflowExecute},
		},
		Webhooks:       WebhookPolicy{MaxAttempts: 3, BackoffMs: 100, TimeoutMs: 5000},
		CircuitBreaker: BreakerPolicy{FailureThreshold: 3, CooldownMs: 30000},
	}
}

// ResolveExecution merges a request-level execution override over the
// policy defaults. Slice fields replace wholesale when present.
func ResolveExecution(p Policy, override *schema.ExecutionOverride) schema.ExecutionConfig {
	cfg := schema.ExecutionConfig{
		ApprovalMode: p.ExecutionDefaults.ApprovalMode,
		ExecuteTools: p.ExecutionDefaults.ExecuteTools,
	}
	if override != nil {
		if override.ApprovalMode != nil {
			cfg.ApprovalMode = *override.ApprovalMode
		}
		if override.ExecuteTools != nil {
			cfg.ExecuteTools = *override.ExecuteTools
		}
		if override.EnabledTools != nil {
			cfg.EnabledTools = override.EnabledTools
		}
		if override.Approvals != nil {
			cfg.Approvals = override.Approvals
		}
	}
	return cfg
}

// ResolveRetry merges a request-level retry override over the policy.
// Zero or negative fields fall back to the policy values.
func ResolveRetry(p Policy, override *schema.RetryPolicy) schema.RetryPolicy {
	rp := p.RetryPolicy
	if override != nil {
		if override.MaxAttempts > 0 {
			rp.MaxAttempts = override.MaxAttempts
		}
		if override.BackoffMs > 0 {
			rp.BackoffMs = override.BackoffMs
		}
	}
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = 1
	}
	return rp
}

// MissingApprovals returns one blocking reason per required approval scope
// that is absent or not approved on the request.
func MissingApprovals(p Policy, workflow string, approvals []schema.Approval) []string {
	required := p.RequiredApprovals[workflow]
	if len(required) == 0 {
		return nil
	}
	granted := make(map[string]bool, len(approvals))
	for _, a := range approvals {
		if a.Approved() {
			granted[a.Scope] = true
		}
	}
	var missing []string
	for _, scope := range required {
		if !granted[scope] {
			missing = append(missing, fmt.Sprintf("missing_approval_%s", scope))
		}
	}
	return missing
}
