package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradewire/agentcore/pkg/schema"
)

// MemoryStore is an in-memory Store implementation for tests and local
// development. It mirrors LibSQLStore semantics, including transactional
// attempt/sequence/version assignment (under a single mutex).
type MemoryStore struct {
	mu          sync.Mutex
	runs        map[string]*WorkflowRun
	steps       map[string][]*WorkflowStep // keyed by run ID
	events      map[string][]*WorkflowEvent
	webhooks    map[string]*WebhookSubscription
	deliveries  map[string]*WebhookDelivery
	deadLetters []*ToolDeadLetter
	policies    map[string][]*TenantPolicy // keyed by tenant ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:       make(map[string]*WorkflowRun),
		steps:      make(map[string][]*WorkflowStep),
		events:     make(map[string][]*WorkflowEvent),
		webhooks:   make(map[string]*WebhookSubscription),
		deliveries: make(map[string]*WebhookDelivery),
		policies:   make(map[string][]*TenantPolicy),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.CreatedAt = timeOrNow(run.CreatedAt)
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, tenantID, id string) (*WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, storeNotFound("workflow_run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) GetRunDetail(ctx context.Context, tenantID, id string) (*RunDetail, error) {
	run, err := s.GetRun(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	detail := &RunDetail{WorkflowRun: *run, Steps: []*WorkflowStep{}, Events: []*WorkflowEvent{}}
	for _, step := range s.steps[id] {
		cp := *step
		detail.Steps = append(detail.Steps, &cp)
	}
	for _, e := range s.events[id] {
		cp := *e
		detail.Events = append(detail.Events, &cp)
	}
	return detail, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, tenantID string, filter RunFilter) ([]*WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []*WorkflowRun
	for _, run := range s.runs {
		if run.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.ProjectID != "" && run.ProjectID != filter.ProjectID {
			continue
		}
		if filter.From != nil && run.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && run.CreatedAt.After(*filter.To) {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *MemoryStore) UpdateRunInput(ctx context.Context, tenantID, id string, input json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return storeNotFound("workflow_run", id)
	}
	run.Input = input
	return nil
}

func (s *MemoryStore) ReopenRun(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return storeNotFound("workflow_run", id)
	}
	run.Status = schema.RunStatusRunning
	run.CompletedAt = nil
	run.GoLiveRecommendation = ""
	run.BlockingReasons = nil
	run.Output = nil
	return nil
}

func (s *MemoryStore) CompleteRun(ctx context.Context, id string, completion RunCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("workflow_run", id)
	}
	now := time.Now().UTC()
	run.Status = completion.Status
	run.GoLiveRecommendation = completion.GoLiveRecommendation
	run.BlockingReasons = completion.BlockingReasons
	run.Output = completion.Output
	run.CompletedAt = &now
	return nil
}

func (s *MemoryStore) CreateStepAttempt(ctx context.Context, step *WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, existing := range s.steps[step.RunID] {
		if existing.StepName == step.StepName && existing.Attempt > max {
			max = existing.Attempt
		}
	}
	step.Attempt = max + 1
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.Status == "" {
		step.Status = schema.StepStatusRunning
	}
	step.StartedAt = timeOrNow(step.StartedAt)
	cp := *step
	s.steps[step.RunID] = append(s.steps[step.RunID], &cp)
	return nil
}

func (s *MemoryStore) CompleteStepAttempt(ctx context.Context, id string, status schema.StepStatus, output json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, steps := range s.steps {
		for _, step := range steps {
			if step.ID == id {
				now := time.Now().UTC()
				step.Status = status
				step.Output = output
				step.Error = errMsg
				step.CompletedAt = &now
				return nil
			}
		}
	}
	return storeNotFound("workflow_step", id)
}

func (s *MemoryStore) LatestStepStates(ctx context.Context, tenantID, runID string) (map[string]*WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]*WorkflowStep)
	for _, step := range s.steps[runID] {
		if step.TenantID != tenantID {
			continue
		}
		current, ok := states[step.StepName]
		if !ok || step.Attempt > current.Attempt {
			cp := *step
			states[step.StepName] = &cp
		}
	}
	return states, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Sequence = int64(len(s.events[event.RunID])) + 1
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = timeOrNow(event.CreatedAt)
	cp := *event
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) CreateWebhook(ctx context.Context, sub *WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.CreatedAt = timeOrNow(sub.CreatedAt)
	cp := *sub
	s.webhooks[sub.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWebhook(ctx context.Context, tenantID, id string) (*WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.webhooks[id]
	if !ok || sub.TenantID != tenantID {
		return nil, storeNotFound("webhook", id)
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) ListWebhooks(ctx context.Context, tenantID string) ([]*WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subs []*WebhookSubscription
	for _, sub := range s.webhooks {
		if sub.TenantID != tenantID {
			continue
		}
		cp := *sub
		subs = append(subs, &cp)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (s *MemoryStore) CreateDelivery(ctx context.Context, d *WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.CreatedAt = timeOrNow(d.CreatedAt)
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDelivery(ctx context.Context, tenantID, id string) (*WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || d.TenantID != tenantID {
		return nil, storeNotFound("webhook_delivery", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDeliveries(ctx context.Context, tenantID string, filter DeliveryFilter) ([]*WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deliveries []*WebhookDelivery
	for _, d := range s.deliveries {
		if d.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && string(d.Status) != filter.Status {
			continue
		}
		if filter.EventType != "" && d.EventType != filter.EventType {
			continue
		}
		cp := *d
		deliveries = append(deliveries, &cp)
	}
	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].CreatedAt.After(deliveries[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(deliveries) {
			return nil, nil
		}
		deliveries = deliveries[filter.Offset:]
	}
	if filter.Limit > 0 && len(deliveries) > filter.Limit {
		deliveries = deliveries[:filter.Limit]
	}
	return deliveries, nil
}

func (s *MemoryStore) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status != schema.DeliveryStatusPending && d.Status != schema.DeliveryStatusRetrying {
			continue
		}
		if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
			continue
		}
		cp := *d
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) MarkDeliveryDelivered(ctx context.Context, id string, attempt int, responseStatus int, responseBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return storeNotFound("webhook_delivery", id)
	}
	now := time.Now().UTC()
	d.Status = schema.DeliveryStatusDelivered
	d.Attempt = attempt
	d.ResponseStatus = &responseStatus
	d.ResponseBody = responseBody
	d.LastError = ""
	d.NextRetryAt = nil
	d.DeliveredAt = &now
	return nil
}

func (s *MemoryStore) MarkDeliveryRetrying(ctx context.Context, id string, attempt int, lastError string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return storeNotFound("webhook_delivery", id)
	}
	d.Status = schema.DeliveryStatusRetrying
	d.Attempt = attempt
	d.LastError = lastError
	retryAt := nextRetryAt
	d.NextRetryAt = &retryAt
	return nil
}

func (s *MemoryStore) MarkDeliveryFailed(ctx context.Context, id string, attempt int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return storeNotFound("webhook_delivery", id)
	}
	d.Status = schema.DeliveryStatusFailed
	d.Attempt = attempt
	d.LastError = lastError
	d.NextRetryAt = nil
	return nil
}

func (s *MemoryStore) CloneDeliveryForRetry(ctx context.Context, tenantID, id string) (*WebhookDelivery, error) {
	orig, err := s.GetDelivery(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	clone := &WebhookDelivery{
		ID:        uuid.New().String(),
		TenantID:  orig.TenantID,
		WebhookID: orig.WebhookID,
		EventType: orig.EventType,
		Payload:   orig.Payload,
		Attempt:   0,
		Status:    schema.DeliveryStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateDelivery(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

func (s *MemoryStore) CreateDeadLetter(ctx context.Context, dl *ToolDeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	dl.CreatedAt = timeOrNow(dl.CreatedAt)
	cp := *dl
	s.deadLetters = append(s.deadLetters, &cp)
	return nil
}

func (s *MemoryStore) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]*ToolDeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var letters []*ToolDeadLetter
	for i := len(s.deadLetters) - 1; i >= 0; i-- {
		dl := s.deadLetters[i]
		if dl.TenantID != tenantID {
			continue
		}
		cp := *dl
		letters = append(letters, &cp)
		if limit > 0 && len(letters) >= limit {
			break
		}
	}
	return letters, nil
}

func (s *MemoryStore) GetActivePolicy(ctx context.Context, tenantID string) (*TenantPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.policies[tenantID] {
		if p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storeNotFound("tenant_policy", tenantID)
}

func (s *MemoryStore) ListPolicyVersions(ctx context.Context, tenantID string) ([]*TenantPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var policies []*TenantPolicy
	for _, p := range s.policies[tenantID] {
		cp := *p
		policies = append(policies, &cp)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Version > policies[j].Version })
	return policies, nil
}

func (s *MemoryStore) ActivatePolicy(ctx context.Context, tenantID string, policy json.RawMessage) (*TenantPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 0
	for _, p := range s.policies[tenantID] {
		p.Active = false
		if p.Version > version {
			version = p.Version
		}
	}
	p := &TenantPolicy{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Version:   version + 1,
		Policy:    policy,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	s.policies[tenantID] = append(s.policies[tenantID], p)
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned int64
	for id, d := range s.deliveries {
		if d.Status.Terminal() && d.CreatedAt.Before(olderThan) {
			delete(s.deliveries, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) PruneDeadLetters(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*ToolDeadLetter
	var pruned int64
	for _, dl := range s.deadLetters {
		if dl.CreatedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, dl)
	}
	s.deadLetters = kept
	return pruned, nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
