// Package webhook delivers run events to subscriber endpoints with
// at-least-once semantics. The dispatcher performs single delivery
// attempts; the worker sweeps the store for due deliveries and hands
// them back to the dispatcher until they reach a terminal status.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/store"
)

const maxWebhookResponseBody = 64 * 1024 // 64KB

// Dispatcher performs one webhook delivery attempt and records the
// outcome. Retry bounds come from the subscriber tenant's policy.
type Dispatcher struct {
	store    store.Store
	policies *policy.Resolver
	client   *http.Client
	logger   *slog.Logger
}

// NewDispatcher wires a Dispatcher. client may be nil.
func NewDispatcher(s store.Store, policies *policy.Resolver, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Dispatcher{store: s, policies: policies, client: client, logger: logger}
}

// Attempt POSTs the delivery payload to the subscription endpoint and
// marks the delivery delivered, retrying, or failed. Attempt numbers
// continue from the delivery's recorded count.
func (d *Dispatcher) Attempt(ctx context.Context, delivery *store.WebhookDelivery, sub *store.WebhookSubscription) {
	pol, err := d.policies.ForTenant(ctx, delivery.TenantID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to resolve webhook policy",
			slog.String("delivery_id", delivery.ID),
			slog.String("error", err.Error()),
		)
		pol = d.policies.Defaults()
	}

	attempt := delivery.Attempt + 1
	status, body, err := d.post(ctx, delivery, sub, pol.Webhooks.Timeout())
	if err == nil && status >= 200 && status < 300 {
		if mErr := d.store.MarkDeliveryDelivered(ctx, delivery.ID, attempt, status, body); mErr != nil {
			d.logger.ErrorContext(ctx, "failed to mark delivery delivered",
				slog.String("delivery_id", delivery.ID),
				slog.String("error", mErr.Error()),
			)
		}
		return
	}

	lastError := fmt.Sprintf("endpoint returned %d", status)
	if err != nil {
		lastError = err.Error()
	}

	if attempt < pol.Webhooks.MaxAttempts {
		next := time.Now().UTC().Add(time.Duration(pol.Webhooks.BackoffMs*attempt) * time.Millisecond)
		if mErr := d.store.MarkDeliveryRetrying(ctx, delivery.ID, attempt, lastError, next); mErr != nil {
			d.logger.ErrorContext(ctx, "failed to mark delivery retrying",
				slog.String("delivery_id", delivery.ID),
				slog.String("error", mErr.Error()),
			)
		}
		return
	}

	d.logger.WarnContext(ctx, "webhook delivery exhausted",
		slog.String("delivery_id", delivery.ID),
		slog.String("webhook_id", sub.ID),
		slog.Int("attempts", attempt),
		slog.String("error", lastError),
	)
	if mErr := d.store.MarkDeliveryFailed(ctx, delivery.ID, attempt, lastError); mErr != nil {
		d.logger.ErrorContext(ctx, "failed to mark delivery failed",
			slog.String("delivery_id", delivery.ID),
			slog.String("error", mErr.Error()),
		)
	}
}

func (d *Dispatcher) post(ctx context.Context, delivery *store.WebhookDelivery, sub *store.WebhookSubscription, timeout time.Duration) (int, string, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AgentCore-Event", delivery.EventType)
	req.Header.Set("X-AgentCore-Delivery-Id", delivery.ID)
	if sub.Secret != "" {
		req.Header.Set("X-AgentCore-Signature", signPayload(sub.Secret, delivery.Payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBody))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
