// Package events is the fan-out point for run lifecycle events: every
// published event is appended to the run's durable event log, pushed to
// live stream subscribers, and enqueued as a delivery for each matching
// webhook subscription.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/streaming"
	"github.com/tradewire/agentcore/pkg/schema"
)

// Dispatcher attempts a webhook delivery once. The bus fires the first
// attempt asynchronously right after enqueueing; the retry worker owns
// every attempt after that.
type Dispatcher interface {
	Attempt(ctx context.Context, d *store.WebhookDelivery, sub *store.WebhookSubscription)
}

// Bus publishes run events to the event log, the live stream hub, and
// webhook deliveries.
type Bus struct {
	store      store.Store
	hub        streaming.EventHub
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewBus wires a Bus. dispatcher may be nil; deliveries are then created
// pending and picked up by the retry worker alone.
func NewBus(s store.Store, hub streaming.EventHub, dispatcher Dispatcher, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Bus{store: s, hub: hub, dispatcher: dispatcher, logger: logger}
}

// Publish records and fans out one event. Log append and webhook enqueue
// failures are logged, never propagated: event emission must not fail the
// workflow that emits it.
func (b *Bus) Publish(ctx context.Context, tenantID, runID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.ErrorContext(ctx, "event payload is not JSON-serializable",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		data = nil
	}

	if runID != "" {
		evt := &store.WorkflowEvent{
			TenantID: tenantID,
			RunID:    runID,
			Type:     eventType,
			Payload:  data,
		}
		if err := b.store.AppendEvent(ctx, evt); err != nil {
			b.logger.ErrorContext(ctx, "failed to append run event",
				slog.String("event_type", eventType),
				slog.String("error", err.Error()),
			)
		}
	}

	if b.hub != nil {
		_ = b.hub.Publish(ctx, streaming.StreamEvent{
			TenantID:  tenantID,
			RunID:     runID,
			EventType: eventType,
			Payload:   json.RawMessage(data),
		})
	}

	b.enqueueWebhooks(ctx, tenantID, runID, eventType, data)
}

// enqueueWebhooks creates one pending delivery per matching active
// subscription and kicks off the first attempt without blocking the
// publisher.
func (b *Bus) enqueueWebhooks(ctx context.Context, tenantID, runID, eventType string, payload json.RawMessage) {
	subs, err := b.store.ListWebhooks(ctx, tenantID)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to list webhook subscriptions",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(deliveryEnvelope{
		Type:      eventType,
		TenantID:  tenantID,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return
	}

	for _, sub := range subs {
		if !sub.Active || !sub.Matches(eventType) {
			continue
		}
		d := &store.WebhookDelivery{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			WebhookID: sub.ID,
			EventType: eventType,
			Payload:   body,
			Status:    schema.DeliveryStatusPending,
		}
		if err := b.store.CreateDelivery(ctx, d); err != nil {
			b.logger.ErrorContext(ctx, "failed to enqueue webhook delivery",
				slog.String("webhook_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if b.dispatcher != nil {
			go b.dispatcher.Attempt(context.WithoutCancel(ctx), d, sub)
		}
	}
}

// deliveryEnvelope is the webhook request body wrapped around the event
// payload.
type deliveryEnvelope struct {
	Type      string          `json:"type"`
	TenantID  string          `json:"tenantId"`
	RunID     string          `json:"runId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
