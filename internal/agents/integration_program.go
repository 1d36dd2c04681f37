package agents

import "context"

func scheduleHealth(milestones []any) (string, int) {
	total := len(milestones)
	complete, blocked := 0, 0
	for _, v := range milestones {
		m, _ := v.(map[string]any)
		switch str(m, "status") {
		case "complete":
			complete++
		case "blocked":
			blocked++
		}
	}
	completionPct := percent(complete, total)

	if blocked > 0 {
		return "red", completionPct
	}
	if completionPct < 60 {
		return "yellow", completionPct
	}
	return "green", completionPct
}

// IntegrationProgram assesses program schedule health, active risks, and
// blocked dependencies, and flags whether leadership escalation is needed.
func IntegrationProgram(ctx context.Context, input map[string]any) (map[string]any, error) {
	program := obj(input, "program")
	milestones := list(program, "milestones")

	health, completionPct := scheduleHealth(milestones)

	var activeRisks []any
	highSeverityRisk := false
	for _, v := range list(program, "risks") {
		risk, _ := v.(map[string]any)
		if str(risk, "status") == "closed" {
			continue
		}
		activeRisks = append(activeRisks, risk)
		if str(risk, "severity") == "high" {
			highSeverityRisk = true
		}
	}

	var blockedDependencies []map[string]any
	for _, v := range list(program, "dependencies") {
		dep, _ := v.(map[string]any)
		if str(dep, "status") == "blocked" {
			blockedDependencies = append(blockedDependencies, dep)
		}
	}

	escalationNeeded := highSeverityRisk || len(blockedDependencies) > 0

	criticalPathItems := []any{}
	for _, v := range milestones {
		m, _ := v.(map[string]any)
		if str(m, "status") == "complete" {
			continue
		}
		criticalPathItems = append(criticalPathItems, map[string]any{
			"type":  "milestone",
			"name":  str(m, "name"),
			"owner": ownerOrUnassigned(m),
		})
	}
	for _, dep := range blockedDependencies {
		criticalPathItems = append(criticalPathItems, map[string]any{
			"type":  "dependency",
			"name":  str(dep, "name"),
			"owner": ownerOrUnassigned(dep),
		})
	}

	return map[string]any{
		"projectId":         str(input, "projectId"),
		"projectName":       str(input, "projectName"),
		"health":            health,
		"completionPercent": completionPct,
		"onTrack":           health == "green" && len(activeRisks) < 3,
		"escalationNeeded":  escalationNeeded,
		"criticalPathItems": criticalPathItems,
		"next30DayPlan": []any{
			"Close blocked dependencies and unresolved high-severity risks",
			"Lock integration specs and mapping baseline for active document types",
			"Complete partner certification and production readiness gate",
		},
		"communicationsPlan": map[string]any{
			"cadence":    "weekly",
			"audiences":  []any{"implementation team", "business stakeholders", "customer leadership"},
			"focusAreas": []any{"milestone status", "risk changes", "go-live readiness"},
		},
		"toolContracts": []any{
			contract("project.plan.sync",
				"Sync milestones and owners with project management system",
				"projectId", "milestones", "dependencies"),
			contract("risk.register.update",
				"Track and escalate active implementation risks",
				"projectId", "risks", "severity"),
			contract("stakeholder.status.publish",
				"Publish weekly integration status package",
				"projectId", "health", "criticalPathItems", "next30DayPlan"),
		},
	}, nil
}

func ownerOrUnassigned(m map[string]any) string {
	if owner := str(m, "owner"); owner != "" {
		return owner
	}
	return "unassigned"
}
