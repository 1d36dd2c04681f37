package agents

import "context"

func computeQualityScore(testResults []any, defectSummary map[string]any) int {
	if len(testResults) == 0 {
		return 0
	}
	passCount := 0
	for _, v := range testResults {
		result, _ := v.(map[string]any)
		if str(result, "status") == "pass" {
			passCount++
		}
	}
	score := percent(passCount, len(testResults))

	score -= intField(defectSummary, "openCritical") * 15
	score -= intField(defectSummary, "openHigh") * 8
	score -= intField(defectSummary, "openMedium") * 3

	return clamp(score, 0, 100)
}

// TestCertification scores test evidence against certification criteria and
// decides certified, conditional, or not_ready.
func TestCertification(ctx context.Context, input map[string]any) (map[string]any, error) {
	test := obj(input, "test")
	testResults := list(test, "results")
	defectSummary := obj(test, "defectSummary")

	qualityScore := computeQualityScore(testResults, defectSummary)

	blockers := []any{}
	for _, v := range list(test, "certificationCriteria") {
		criterion, _ := v.(map[string]any)
		required := true
		if r, ok := criterion["required"].(bool); ok {
			required = r
		}
		if !boolean(criterion, "met") && required {
			blockers = append(blockers, map[string]any{
				"type": "criteria",
				"name": str(criterion, "name"),
			})
		}
	}
	for _, v := range testResults {
		result, _ := v.(map[string]any)
		if status := str(result, "status"); status != "pass" {
			blockers = append(blockers, map[string]any{
				"type":   "test",
				"name":   str(result, "caseId"),
				"status": status,
			})
		}
	}
	if intField(defectSummary, "openCritical") > 0 {
		blockers = append(blockers, map[string]any{
			"type": "defect",
			"name": "Open critical defects",
		})
	}
	partnerCertification := obj(test, "partnerCertification")
	if boolean(partnerCertification, "required") && str(partnerCertification, "status") != "approved" {
		blockers = append(blockers, map[string]any{
			"type": "partner_certification",
			"name": "Partner certification incomplete",
		})
	}

	certificationDecision := "certified"
	if len(blockers) > 0 {
		if qualityScore >= 80 {
			certificationDecision = "conditional"
		} else {
			certificationDecision = "not_ready"
		}
	}

	recommendedActions := []any{"Proceed to deployment readiness gate"}
	if len(blockers) > 0 {
		recommendedActions = []any{"Resolve blockers and re-run certification workflow"}
	}

	return map[string]any{
		"projectId":             str(input, "projectId"),
		"documentType":          str(input, "documentType"),
		"qualityScore":          qualityScore,
		"certificationDecision": certificationDecision,
		"blockers":              blockers,
		"retestPlan": []any{
			"Re-run failed and blocked test cases after mapping fixes",
			"Re-validate required certification criteria",
			"Execute final regression suite before release gate",
		},
		"recommendedActions": recommendedActions,
		"toolContracts": []any{
			contract("test.execution.run",
				"Execute E2E test suite for certification",
				"projectId", "documentType", "suiteId"),
			contract("defect.tracker.sync",
				"Sync open defect status into certification report",
				"projectId", "defectSummary"),
			contract("certification.report.publish",
				"Publish certification decision and evidence",
				"projectId", "qualityScore", "certificationDecision", "blockers"),
		},
	}, nil
}
