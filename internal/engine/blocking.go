package engine

import (
	"context"

	"github.com/tradewire/agentcore/internal/expressions"
)

// blockingRule pairs a blocking reason with the predicate that raises it.
// Predicates are evaluated over {"outputs": <step name -> output>} and use
// optional chaining so missing or skipped steps never block.
type blockingRule struct {
	Reason     string
	Expression string
}

var newPartnerBlockingRules = []blockingRule{
	{
		Reason:     "test_certification_not_ready",
		Expression: `outputs?.test_certification?.certificationDecision == "not_ready"`,
	},
	{
		Reason:     "deployment_readiness_hold",
		Expression: `outputs?.deployment_readiness?.releaseDecision == "hold"`,
	},
	{
		Reason:     "standards_review_requires_revision",
		Expression: `outputs?.standards_architecture?.approvalRecommendation == "revise"`,
	},
	{
		Reason:     "integration_program_escalation_required",
		Expression: `outputs?.integration_program?.escalationNeeded == true`,
	},
}

// BlockingEvaluator derives blocking reasons from collected step outputs.
type BlockingEvaluator struct {
	engine expressions.Engine
}

// NewBlockingEvaluator creates an evaluator backed by the expr engine.
func NewBlockingEvaluator() *BlockingEvaluator {
	return &BlockingEvaluator{engine: expressions.NewExprEngine()}
}

// Evaluate runs every blocking predicate and returns the raised reasons in
// rule order. A predicate that fails to evaluate does not block.
func (b *BlockingEvaluator) Evaluate(ctx context.Context, outputs map[string]map[string]any) []string {
	env := make(map[string]any, len(outputs))
	for step, output := range outputs {
		env[step] = output
	}
	data := map[string]any{"outputs": env}

	var reasons []string
	for _, rule := range newPartnerBlockingRules {
		v, err := b.engine.Evaluate(ctx, rule.Expression, data)
		if err != nil {
			continue
		}
		if blocked, ok := v.(bool); ok && blocked {
			reasons = append(reasons, rule.Reason)
		}
	}
	return reasons
}
