package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradewire/agentcore/pkg/schema"
)

func TestBlockingEvaluatorNoOutputs(t *testing.T) {
	b := NewBlockingEvaluator()
	assert.Empty(t, b.Evaluate(context.Background(), nil))
	assert.Empty(t, b.Evaluate(context.Background(), map[string]map[string]any{}))
}

func TestBlockingEvaluatorReasons(t *testing.T) {
	b := NewBlockingEvaluator()

	outputs := map[string]map[string]any{
		"test_certification":     {"certificationDecision": "not_ready"},
		"deployment_readiness":   {"releaseDecision": "hold"},
		"standards_architecture": {"approvalRecommendation": "revise"},
		"integration_program":    {"escalationNeeded": true},
	}
	assert.Equal(t, []string{
		"test_certification_not_ready",
		"deployment_readiness_hold",
		"standards_review_requires_revision",
		"integration_program_escalation_required",
	}, b.Evaluate(context.Background(), outputs))
}

func TestBlockingEvaluatorCleanOutputs(t *testing.T) {
	b := NewBlockingEvaluator()

	outputs := map[string]map[string]any{
		"test_certification":     {"certificationDecision": "certified"},
		"deployment_readiness":   {"releaseDecision": "ready"},
		"standards_architecture": {"approvalRecommendation": "approve"},
		"integration_program":    {"escalationNeeded": false},
	}
	assert.Empty(t, b.Evaluate(context.Background(), outputs))
}

func TestBlockingEvaluatorPartialOutputs(t *testing.T) {
	b := NewBlockingEvaluator()

	// Missing steps never block.
	outputs := map[string]map[string]any{
		"deployment_readiness": {"releaseDecision": "hold"},
	}
	assert.Equal(t, []string{"deployment_readiness_hold"}, b.Evaluate(context.Background(), outputs))
}

func TestWorkflowSteps(t *testing.T) {
	defs, ok := WorkflowSteps(WorkflowNewPartnerImplementation)
	assert.True(t, ok)
	assert.Len(t, defs, 8)
	assert.Equal(t, "integration_program", defs[0].Name)
	assert.Equal(t, "post_production_escalation", defs[7].Name)

	_, ok = WorkflowSteps("bogus")
	assert.False(t, ok)
}

func TestPostProductionApplicability(t *testing.T) {
	defs, _ := WorkflowSteps(WorkflowNewPartnerImplementation)
	postProd := defs[7]

	assert.False(t, postProd.Applicable(map[string]any{}))
	assert.False(t, postProd.Applicable(map[string]any{
		"postProduction": map[string]any{"enabled": false},
	}))
	assert.True(t, postProd.Applicable(map[string]any{
		"postProduction": map[string]any{"enabled": true},
	}))
}

func TestBackoffLinear(t *testing.T) {
	p := schema.RetryPolicy{MaxAttempts: 3, BackoffMs: 100}
	assert.Equal(t, 100*time.Millisecond, Backoff(p, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(p, 2))
	assert.Equal(t, time.Duration(0), Backoff(schema.RetryPolicy{}, 1))
}
