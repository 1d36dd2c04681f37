package agents

import "context"

// StandardsArchitecture reviews the standards checklist and architecture
// decisions and recommends approve or revise. Any failed "must" rule forces
// a revision.
func StandardsArchitecture(ctx context.Context, input map[string]any) (map[string]any, error) {
	standards := obj(input, "standards")
	checklist := list(standards, "checklist")

	passed := 0
	violations := []any{}
	mustViolations := 0
	for _, v := range checklist {
		item, _ := v.(map[string]any)
		if boolean(item, "passed") {
			passed++
			continue
		}
		severity := str(item, "severity")
		if severity == "must" {
			mustViolations++
		}
		violations = append(violations, map[string]any{
			"ruleId":      str(item, "ruleId"),
			"severity":    severity,
			"description": str(item, "description"),
			"notes":       item["notes"],
		})
	}

	complianceScore := percent(passed, len(checklist))
	approvalRecommendation := "approve"
	if mustViolations > 0 {
		approvalRecommendation = "revise"
	}

	decisions := []any{}
	for _, v := range list(standards, "architectureDecisions") {
		decision, _ := v.(map[string]any)
		decisions = append(decisions, map[string]any{
			"decision": str(decision, "decision"),
			"status":   str(decision, "status"),
		})
	}

	return map[string]any{
		"projectId":              str(input, "projectId"),
		"complianceScore":        complianceScore,
		"approvalRecommendation": approvalRecommendation,
		"violations":             violations,
		"standardizationOpportunities": []any{
			"Increase reuse of approved mapping templates and shared transforms",
			"Normalize exception handling and escalation policies across partners",
			"Adopt a single deployment readiness checklist for all implementations",
		},
		"referencePatterns": []any{
			"Thin canonical contract + adapter model",
			"Spec baseline -> mapping build -> certification -> release gate",
			"Policy-driven post-production escalation workflow",
		},
		"architectureDecisionSummary": decisions,
		"toolContracts": []any{
			contract("architecture.review.record",
				"Record architecture decision and standards compliance evidence",
				"projectId", "violations", "architectureDecisions"),
			contract("template.catalog.enforce",
				"Enforce approved reusable integration patterns",
				"projectId", "reuseTargets"),
			contract("governance.report.publish",
				"Publish standards review report for leadership sign-off",
				"projectId", "complianceScore", "approvalRecommendation"),
		},
	}, nil
}
