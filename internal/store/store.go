package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tradewire/agentcore/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow runs
	CreateRun(ctx context.Context, run *WorkflowRun) error
	GetRun(ctx context.Context, tenantID, id string) (*WorkflowRun, error)
	GetRunDetail(ctx context.Context, tenantID, id string) (*RunDetail, error)
	ListRuns(ctx context.Context, tenantID string, filter RunFilter) ([]*WorkflowRun, error)
	UpdateRunInput(ctx context.Context, tenantID, id string, input json.RawMessage) error
	ReopenRun(ctx context.Context, tenantID, id string) error
	CompleteRun(ctx context.Context, id string, completion RunCompletion) error

	// Step attempts (append-only, one row per attempt)
	CreateStepAttempt(ctx context.Context, step *WorkflowStep) error
	CompleteStepAttempt(ctx context.Context, id string, status schema.StepStatus, output json.RawMessage, errMsg string) error
	LatestStepStates(ctx context.Context, tenantID, runID string) (map[string]*WorkflowStep, error)

	// Event log (append-only, per-run sequence)
	AppendEvent(ctx context.Context, event *WorkflowEvent) error

	// Webhook subscriptions
	CreateWebhook(ctx context.Context, sub *WebhookSubscription) error
	GetWebhook(ctx context.Context, tenantID, id string) (*WebhookSubscription, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]*WebhookSubscription, error)

	// Webhook deliveries
	CreateDelivery(ctx context.Context, d *WebhookDelivery) error
	GetDelivery(ctx context.Context, tenantID, id string) (*WebhookDelivery, error)
	ListDeliveries(ctx context.Context, tenantID string, filter DeliveryFilter) ([]*WebhookDelivery, error)
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error)
	MarkDeliveryDelivered(ctx context.Context, id string, attempt int, responseStatus int, responseBody string) error
	MarkDeliveryRetrying(ctx context.Context, id string, attempt int, lastError string, nextRetryAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, id string, attempt int, lastError string) error
	CloneDeliveryForRetry(ctx context.Context, tenantID, id string) (*WebhookDelivery, error)

	// Tool dead letters
	CreateDeadLetter(ctx context.Context, dl *ToolDeadLetter) error
	ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]*ToolDeadLetter, error)

	// Tenant policies (versioned, single active row per tenant)
	GetActivePolicy(ctx context.Context, tenantID string) (*TenantPolicy, error)
	ListPolicyVersions(ctx context.Context, tenantID string) ([]*TenantPolicy, error)
	ActivatePolicy(ctx context.Context, tenantID string, policy json.RawMessage) (*TenantPolicy, error)

	// Retention
	PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error)
	PruneDeadLetters(ctx context.Context, olderThan time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
