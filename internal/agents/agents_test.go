package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationProgramHealthy(t *testing.T) {
	out, err := IntegrationProgram(context.Background(), map[string]any{
		"projectId":   "proj-1",
		"projectName": "Acme EDI",
		"program": map[string]any{
			"milestones": []any{
				map[string]any{"name": "kickoff", "status": "complete"},
				map[string]any{"name": "mapping", "status": "complete"},
				map[string]any{"name": "certification", "status": "in_progress", "owner": "dana"},
			},
			"risks":        []any{map[string]any{"severity": "low", "status": "open"}},
			"dependencies": []any{},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "green", out["health"])
	assert.Equal(t, 67, out["completionPercent"])
	assert.Equal(t, false, out["escalationNeeded"])

	items, ok := out["criticalPathItems"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "certification", item["name"])
	assert.Equal(t, "dana", item["owner"])
}

func TestIntegrationProgramEscalation(t *testing.T) {
	t.Run("high severity risk", func(t *testing.T) {
		out, err := IntegrationProgram(context.Background(), map[string]any{
			"program": map[string]any{
				"risks": []any{map[string]any{"severity": "high", "status": "open"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, true, out["escalationNeeded"])
	})

	t.Run("closed high risk does not escalate", func(t *testing.T) {
		out, err := IntegrationProgram(context.Background(), map[string]any{
			"program": map[string]any{
				"risks": []any{map[string]any{"severity": "high", "status": "closed"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, false, out["escalationNeeded"])
	})

	t.Run("blocked dependency escalates and turns red", func(t *testing.T) {
		out, err := IntegrationProgram(context.Background(), map[string]any{
			"program": map[string]any{
				"milestones":   []any{map[string]any{"name": "m1", "status": "blocked"}},
				"dependencies": []any{map[string]any{"name": "partner cert", "status": "blocked"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, true, out["escalationNeeded"])
		assert.Equal(t, "red", out["health"])
	})
}

func TestOnboardingCapabilityGap(t *testing.T) {
	out, err := Onboarding(context.Background(), map[string]any{
		"partnerName":         "Initech",
		"connectionType":      "AS2",
		"targetDocumentTypes": []any{"purchase_order"},
		"existingCapabilities": []any{
			"as2_endpoint", "certificate_management", "mdn_support",
			"core_document_validation", "error_handling_workflow",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"po_field_mapping"}, out["missingCapabilities"])
	// 5 of 6 required capabilities present.
	assert.Equal(t, 83, out["readinessScore"])

	recs := out["recommendations"].([]any)
	assert.Contains(t, recs[0], "po_field_mapping")
}

func TestOnboardingDefaultsDocumentTypes(t *testing.T) {
	out, err := Onboarding(context.Background(), map[string]any{
		"partnerName":    "Initech",
		"connectionType": "SFTP",
	})
	require.NoError(t, err)

	missing := out["missingCapabilities"].([]string)
	assert.Contains(t, missing, "invoice_total_validation")
	assert.Contains(t, missing, "po_field_mapping")
	assert.Equal(t, 0, out["readinessScore"])
}

func TestSpecAnalysisCoverage(t *testing.T) {
	out, err := SpecAnalysis(context.Background(), map[string]any{
		"projectId":           "proj-1",
		"targetDocumentTypes": []any{"invoice"},
		"sourceSchema": map[string]any{
			"fields": []any{
				map[string]any{"name": "OrderID", "type": "string"},
				map[string]any{"name": "Total", "type": "string"},
			},
		},
		"targetSchema": map[string]any{
			"fields": []any{
				map[string]any{"name": "orderId", "type": "string"},
				map[string]any{"name": "total", "type": "number"},
				map[string]any{"name": "currency", "type": "string"},
			},
		},
	})
	require.NoError(t, err)

	summary := out["summary"].(map[string]any)
	assert.Equal(t, 2, summary["mappedTargetFields"])
	assert.Equal(t, 67, summary["mappingCoveragePercent"])

	coverage := out["fieldCoverage"].([]any)
	require.Len(t, coverage, 3)
	total := coverage[1].(map[string]any)
	assert.Equal(t, "mapped", total["status"])
	assert.Equal(t, "parse_number", total["transform"])
	currency := coverage[2].(map[string]any)
	assert.Equal(t, "unmapped", currency["status"])

	// Invoice without business rules is a high risk, low coverage another.
	risks := out["risks"].([]any)
	assert.Len(t, risks, 2)
}

func TestMappingEngineerRules(t *testing.T) {
	out, err := MappingEngineer(context.Background(), map[string]any{
		"projectId":    "proj-1",
		"documentType": "invoice",
		"mappingIntent": []any{
			map[string]any{"targetField": "total", "sourceField": "Total", "required": true},
			map[string]any{"targetField": "memo", "sourceField": "Notes", "transform": "custom_transform"},
		},
	})
	require.NoError(t, err)

	rules := out["mappingRules"].([]any)
	require.Len(t, rules, 2)
	first := rules[0].(map[string]any)
	assert.Equal(t, 1, first["sequence"])
	assert.Equal(t, "direct_map", first["transform"])

	warnings := out["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "custom transforms")

	cases := out["generatedTestCases"].([]any)
	require.Len(t, cases, 3)
	assert.Equal(t, "invoice-total-variance", cases[2].(map[string]any)["id"])
}

func TestTestCertificationDecisions(t *testing.T) {
	t.Run("certified", func(t *testing.T) {
		out, err := TestCertification(context.Background(), map[string]any{
			"test": map[string]any{
				"results": []any{
					map[string]any{"caseId": "t1", "status": "pass"},
					map[string]any{"caseId": "t2", "status": "pass"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "certified", out["certificationDecision"])
		assert.Equal(t, 100, out["qualityScore"])
	})

	t.Run("not ready on failures and critical defects", func(t *testing.T) {
		out, err := TestCertification(context.Background(), map[string]any{
			"test": map[string]any{
				"results": []any{
					map[string]any{"caseId": "t1", "status": "pass"},
					map[string]any{"caseId": "t2", "status": "fail"},
				},
				"defectSummary": map[string]any{"openCritical": 2},
			},
		})
		require.NoError(t, err)
		// 50 - 2*15 = 20.
		assert.Equal(t, 20, out["qualityScore"])
		assert.Equal(t, "not_ready", out["certificationDecision"])
	})

	t.Run("conditional when score high but blockers remain", func(t *testing.T) {
		out, err := TestCertification(context.Background(), map[string]any{
			"test": map[string]any{
				"results": []any{
					map[string]any{"caseId": "t1", "status": "pass"},
					map[string]any{"caseId": "t2", "status": "pass"},
					map[string]any{"caseId": "t3", "status": "pass"},
					map[string]any{"caseId": "t4", "status": "pass"},
					map[string]any{"caseId": "t5", "status": "blocked"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 80, out["qualityScore"])
		assert.Equal(t, "conditional", out["certificationDecision"])
	})

	t.Run("partner certification gate", func(t *testing.T) {
		out, err := TestCertification(context.Background(), map[string]any{
			"test": map[string]any{
				"results": []any{map[string]any{"caseId": "t1", "status": "pass"}},
				"partnerCertification": map[string]any{
					"required": true,
					"status":   "pending",
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "conditional", out["certificationDecision"])
		blockers := out["blockers"].([]any)
		require.Len(t, blockers, 1)
		assert.Equal(t, "partner_certification", blockers[0].(map[string]any)["type"])
	})
}

func TestDeploymentReadinessDecision(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		out, err := DeploymentReadiness(context.Background(), map[string]any{
			"deployment": map[string]any{
				"environment": "production",
				"checklist": []any{
					map[string]any{"name": "runbook", "status": "complete"},
				},
				"approvals": []any{
					map[string]any{"group": "ops", "status": "approved"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "ready", out["releaseDecision"])
		assert.Equal(t, 100, out["readinessScore"])
	})

	t.Run("hold on incomplete required item", func(t *testing.T) {
		out, err := DeploymentReadiness(context.Background(), map[string]any{
			"deployment": map[string]any{
				"checklist": []any{
					map[string]any{"name": "runbook", "status": "pending"},
					map[string]any{"name": "optional-drill", "status": "pending", "required": false},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "hold", out["releaseDecision"])
		blockers := out["blockers"].([]any)
		require.Len(t, blockers, 1)
		assert.Equal(t, "runbook", blockers[0].(map[string]any)["item"])
	})

	t.Run("hold on unapproved required approval", func(t *testing.T) {
		out, err := DeploymentReadiness(context.Background(), map[string]any{
			"deployment": map[string]any{
				"checklist": []any{map[string]any{"name": "runbook", "status": "complete"}},
				"approvals": []any{
					map[string]any{"group": "security", "status": "pending"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "hold", out["releaseDecision"])
	})
}

func TestStandardsArchitectureRecommendation(t *testing.T) {
	t.Run("revise on must violation", func(t *testing.T) {
		out, err := StandardsArchitecture(context.Background(), map[string]any{
			"standards": map[string]any{
				"checklist": []any{
					map[string]any{"ruleId": "STD-1", "passed": true},
					map[string]any{"ruleId": "STD-2", "passed": false, "severity": "must"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "revise", out["approvalRecommendation"])
		assert.Equal(t, 50, out["complianceScore"])
	})

	t.Run("approve with should violations only", func(t *testing.T) {
		out, err := StandardsArchitecture(context.Background(), map[string]any{
			"standards": map[string]any{
				"checklist": []any{
					map[string]any{"ruleId": "STD-1", "passed": true},
					map[string]any{"ruleId": "STD-3", "passed": false, "severity": "should"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "approve", out["approvalRecommendation"])
		violations := out["violations"].([]any)
		require.Len(t, violations, 1)
	})
}

func TestPostProductionEscalationTriage(t *testing.T) {
	t.Run("immediate on P1", func(t *testing.T) {
		out, err := PostProductionEscalation(context.Background(), map[string]any{
			"projectId": "proj-1",
			"postProduction": map[string]any{
				"severity": "P1",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "immediate", out["triageLevel"])
		assert.Equal(t, false, out["autoRemediationRecommended"])
		assert.Equal(t, "proj-1-post-go-live", out["incidentId"])
	})

	t.Run("metric breaches drive triage", func(t *testing.T) {
		out, err := PostProductionEscalation(context.Background(), map[string]any{
			"postProduction": map[string]any{
				"incidentId": "INC-7",
				"metrics": []any{
					map[string]any{"name": "error_rate", "value": 9.0, "threshold": 2.0, "direction": "above_is_bad"},
					map[string]any{"name": "throughput", "value": 10.0, "threshold": 50.0, "direction": "below_is_bad"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "immediate", out["triageLevel"])
		breaches := out["thresholdBreaches"].([]any)
		assert.Len(t, breaches, 2)
		causes := out["suspectedCauses"].([]any)
		assert.Contains(t, causes, "Operational metric threshold breach")
	})

	t.Run("normal default", func(t *testing.T) {
		out, err := PostProductionEscalation(context.Background(), map[string]any{
			"postProduction": map[string]any{"incidentId": "INC-8"},
		})
		require.NoError(t, err)
		assert.Equal(t, "normal", out["triageLevel"])
		comms := out["communications"].(map[string]any)
		assert.Equal(t, 60, comms["internalUpdateCadenceMinutes"])
	})
}
