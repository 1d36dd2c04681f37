package streaming

import "context"

// StreamEvent is a real-time event emitted during workflow execution.
type StreamEvent struct {
	TenantID  string `json:"tenantId"`
	RunID     string `json:"runId,omitempty"`
	EventType string `json:"eventType"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	TenantID   string   `json:"tenantId,omitempty"`
	RunID      string   `json:"runId,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// EventHub provides pub/sub for real-time workflow events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
