package store

import (
	"encoding/json"
	"time"

	"github.com/tradewire/agentcore/pkg/schema"
)

// WorkflowRun is the persisted record of one workflow execution.
type WorkflowRun struct {
	ID                   string           `json:"id"`
	TenantID             string           `json:"tenantId"`
	Workflow             string           `json:"workflow"`
	Adapter              string           `json:"adapter,omitempty"`
	ProjectID            string           `json:"projectId,omitempty"`
	PartnerName          string           `json:"partnerName,omitempty"`
	Status               schema.RunStatus `json:"status"`
	ApprovalMode         string           `json:"approvalMode,omitempty"`
	GoLiveRecommendation string           `json:"goLiveRecommendation,omitempty"`
	BlockingReasons      []string         `json:"blockingReasons,omitempty"`
	Input                json.RawMessage  `json:"input,omitempty"`
	Output               json.RawMessage  `json:"output,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	CompletedAt          *time.Time       `json:"completedAt,omitempty"`
}

// WorkflowStep is one attempt of one step within a run. Each retry inserts
// a fresh row; Attempt is assigned by the store as max(attempt)+1 per
// (run, step) inside a transaction.
type WorkflowStep struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	RunID       string            `json:"runId"`
	StepName    string            `json:"stepName"`
	Attempt     int               `json:"attempt"`
	Status      schema.StepStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// WorkflowEvent is one append-only event in a run's event log.
// Sequence is assigned by the store, contiguous per run.
type WorkflowEvent struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	RunID     string          `json:"runId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  int64           `json:"sequence"`
	CreatedAt time.Time       `json:"createdAt"`
}

// WebhookSubscription is a registered webhook endpoint. Events is the
// event-type filter; empty means all events, "*" matches everything.
type WebhookSubscription struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether the subscription wants the given event type.
func (w *WebhookSubscription) Matches(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one durable delivery record for a webhook.
// NextRetryAt is nil exactly when Status is terminal.
type WebhookDelivery struct {
	ID             string                `json:"id"`
	TenantID       string                `json:"tenantId"`
	WebhookID      string                `json:"webhookId"`
	EventType      string                `json:"eventType"`
	Payload        json.RawMessage       `json:"payload,omitempty"`
	Attempt        int                   `json:"attempt"`
	Status         schema.DeliveryStatus `json:"status"`
	ResponseStatus *int                  `json:"responseStatus,omitempty"`
	ResponseBody   string                `json:"responseBody,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
	NextRetryAt    *time.Time            `json:"nextRetryAt,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	DeliveredAt    *time.Time            `json:"deliveredAt,omitempty"`
}

// ToolDeadLetter is a write-once record of a tool execution that could not
// be delivered to its backend. Payload holds the transformed payload.
type ToolDeadLetter struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	RunID     string          `json:"runId,omitempty"`
	Tool      string          `json:"tool"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TenantPolicy is one version of a tenant's policy document. At most one
// row per tenant is active; activation swaps the flag transactionally.
type TenantPolicy struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Version   int             `json:"version"`
	Policy    json.RawMessage `json:"policy"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RunDetail is a run with its step attempts and event log.
type RunDetail struct {
	WorkflowRun
	Steps  []*WorkflowStep  `json:"steps"`
	Events []*WorkflowEvent `json:"events"`
}

// RunCompletion carries the terminal fields written when a run finishes.
type RunCompletion struct {
	Status               schema.RunStatus
	GoLiveRecommendation string
	BlockingReasons      []string
	Output               json.RawMessage
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status    *schema.RunStatus
	ProjectID string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// DeliveryFilter narrows ListDeliveries results.
type DeliveryFilter struct {
	Status    string
	EventType string
	Limit     int
	Offset    int
}
