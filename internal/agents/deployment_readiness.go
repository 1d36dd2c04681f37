package agents

import "context"

// DeploymentReadiness scores the release checklist and required approvals
// and decides ready or hold.
func DeploymentReadiness(ctx context.Context, input map[string]any) (map[string]any, error) {
	deployment := obj(input, "deployment")
	checklist := list(deployment, "checklist")

	completed := 0
	blockers := []any{}
	for _, v := range checklist {
		item, _ := v.(map[string]any)
		status := str(item, "status")
		if status == "complete" {
			completed++
			continue
		}
		required := true
		if r, ok := item["required"].(bool); ok {
			required = r
		}
		if required {
			blockers = append(blockers, map[string]any{
				"item":   str(item, "name"),
				"owner":  ownerOrUnassigned(item),
				"status": status,
			})
		}
	}
	readinessScore := percent(completed, len(checklist))

	requiredApprovals := []any{}
	unapproved := 0
	for _, v := range list(deployment, "approvals") {
		approval, _ := v.(map[string]any)
		required := true
		if r, ok := approval["required"].(bool); ok {
			required = r
		}
		if !required {
			continue
		}
		status := str(approval, "status")
		requiredApprovals = append(requiredApprovals, map[string]any{
			"group":  str(approval, "group"),
			"status": status,
		})
		if status != "approved" {
			unapproved++
		}
	}

	releaseDecision := "ready"
	if len(blockers) > 0 || unapproved > 0 {
		releaseDecision = "hold"
	}

	nextActions := []any{"Proceed with deployment management runbook execution"}
	if releaseDecision != "ready" {
		nextActions = []any{
			"Resolve all required checklist blockers",
			"Obtain outstanding required approvals",
			"Re-run deployment readiness assessment",
		}
	}

	return map[string]any{
		"projectId":         str(input, "projectId"),
		"environment":       str(deployment, "environment"),
		"readinessScore":    readinessScore,
		"releaseDecision":   releaseDecision,
		"blockers":          blockers,
		"requiredApprovals": requiredApprovals,
		"deploymentChecklistSummary": map[string]any{
			"totalItems":     len(checklist),
			"completedItems": completed,
		},
		"nextActions": nextActions,
		"toolContracts": []any{
			contract("change.ticket.validate",
				"Validate that change-management requirements are met for production release",
				"changeTicketId", "riskLevel", "rollbackPlan"),
			contract("deploy.window.reserve",
				"Reserve approved deployment window and notify stakeholders",
				"projectId", "windowStart", "windowEnd", "stakeholders"),
			contract("monitoring.guard.enable",
				"Enable post-deploy monitoring and rollback guardrails",
				"projectId", "metricThresholds", "onCallGroup"),
		},
	}, nil
}
