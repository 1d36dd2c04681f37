package agents

import "context"

func triageLevel(severity string, impactedPartnerCount, thresholdBreaches int) string {
	if severity == "P1" || thresholdBreaches > 1 || impactedPartnerCount > 3 {
		return "immediate"
	}
	if severity == "P2" || impactedPartnerCount > 1 {
		return "high"
	}
	return "normal"
}

// PostProductionEscalation triages a production incident: metric threshold
// breaches, suspected causes, containment, and the escalation path.
func PostProductionEscalation(ctx context.Context, input map[string]any) (map[string]any, error) {
	postProduction := obj(input, "postProduction")

	incidentID := str(postProduction, "incidentId")
	if incidentID == "" {
		incidentID = str(input, "projectId") + "-post-go-live"
	}
	severity := str(postProduction, "severity")
	if severity == "" {
		severity = "P3"
	}

	breaches := []any{}
	for _, v := range list(postProduction, "metrics") {
		metric, _ := v.(map[string]any)
		value := number(metric["value"])
		threshold := number(metric["threshold"])
		breached := false
		switch str(metric, "direction") {
		case "above_is_bad":
			breached = value > threshold
		case "below_is_bad":
			breached = value < threshold
		}
		if breached {
			breaches = append(breaches, map[string]any{
				"name":      str(metric, "name"),
				"value":     metric["value"],
				"threshold": metric["threshold"],
			})
		}
	}

	affectedPartners := list(postProduction, "affectedPartners")
	if affectedPartners == nil {
		affectedPartners = []any{}
	}
	level := triageLevel(severity, len(affectedPartners), len(breaches))

	suspectedCauses := []any{}
	if len(list(postProduction, "recentChanges")) > 0 {
		suspectedCauses = append(suspectedCauses, "Recent deployment or configuration change")
	}
	if len(breaches) > 0 {
		suspectedCauses = append(suspectedCauses, "Operational metric threshold breach")
	}
	suspectedCauses = append(suspectedCauses, "Partner payload drift or schema mismatch")

	escalationPath := []any{"Notify operations owner", "Assign remediation lead", "Track corrective action"}
	internalCadence, externalCadence := 60, 120
	if level == "immediate" {
		escalationPath = []any{"Notify on-call leadership", "Engage integration SME bridge", "Open executive incident channel"}
		internalCadence, externalCadence = 15, 30
	}

	return map[string]any{
		"incidentId":        incidentID,
		"triageLevel":       level,
		"affectedPartners":  affectedPartners,
		"thresholdBreaches": breaches,
		"suspectedCauses":   suspectedCauses,
		"containmentActions": []any{
			"Isolate impacted partner routes and pause risky automations",
			"Enable safe fallback or manual processing path",
			"Capture run evidence and rollback recent high-risk changes if needed",
		},
		"escalationPath": escalationPath,
		"communications": map[string]any{
			"internalUpdateCadenceMinutes": internalCadence,
			"externalUpdateCadenceMinutes": externalCadence,
		},
		"autoRemediationRecommended": level != "immediate",
		"toolContracts": []any{
			contract("incident.bridge.open",
				"Open incident bridge and assign on-call responders",
				"incidentId", "severity", "affectedPartners"),
			contract("runbook.execute",
				"Execute approved escalation runbook actions",
				"incidentId", "runbookId", "steps"),
			contract("stakeholder.alert.send",
				"Send internal and external incident updates",
				"incidentId", "triageLevel", "nextUpdateAt"),
		},
	}, nil
}
