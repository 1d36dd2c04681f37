package agents

import (
	"context"
	"fmt"
	"strings"
)

func buildMappingRules(mappingIntent []any) []map[string]any {
	rules := make([]map[string]any, 0, len(mappingIntent))
	for i, v := range mappingIntent {
		item, _ := v.(map[string]any)
		transform := str(item, "transform")
		if transform == "" {
			transform = "direct_map"
		}
		rules = append(rules, map[string]any{
			"sequence":     i + 1,
			"targetField":  str(item, "targetField"),
			"sourceField":  str(item, "sourceField"),
			"transform":    transform,
			"required":     boolean(item, "required"),
			"defaultValue": item["defaultValue"],
			"validation":   item["validation"],
		})
	}
	return rules
}

func buildTestCases(documentType string, rules []map[string]any) []any {
	var requiredTargets []string
	for _, rule := range rules {
		if boolean(rule, "required") {
			requiredTargets = append(requiredTargets, str(rule, "targetField"))
		}
	}
	missing := strings.Join(requiredTargets, ", ")
	if missing == "" {
		missing = "none"
	}

	cases := []any{
		map[string]any{
			"id":          documentType + "-happy-path",
			"description": "Valid payload maps successfully",
			"expected":    "pass",
		},
		map[string]any{
			"id":          documentType + "-missing-required",
			"description": "Missing required target fields: " + missing,
			"expected":    "fail",
		},
	}
	if documentType == "invoice" {
		cases = append(cases, map[string]any{
			"id":          "invoice-total-variance",
			"description": "Invoice total outside tolerance should raise exception",
			"expected":    "fail",
		})
	}
	return cases
}

// MappingEngineer turns declared mapping intent into an ordered rule set
// with a generated regression suite and a deployment plan.
func MappingEngineer(ctx context.Context, input map[string]any) (map[string]any, error) {
	documentType := str(input, "documentType")
	rules := buildMappingRules(list(input, "mappingIntent"))

	warnings := []any{}
	if len(rules) == 0 {
		warnings = append(warnings, "No mapping intent provided; generated rule set is empty")
	}
	customTransforms := 0
	for _, rule := range rules {
		if str(rule, "transform") == "custom_transform" {
			customTransforms++
		}
	}
	if customTransforms > 0 {
		warnings = append(warnings,
			fmt.Sprintf("%d fields require custom transforms and code review", customTransforms))
	}

	rulesAny := make([]any, len(rules))
	for i, rule := range rules {
		rulesAny[i] = rule
	}

	return map[string]any{
		"projectId":          str(input, "projectId"),
		"partnerId":          str(input, "partnerId"),
		"documentType":       documentType,
		"mappingRules":       rulesAny,
		"generatedTestCases": buildTestCases(documentType, rules),
		"deploymentPlan": []any{
			"Apply mapping rules in lower environment",
			"Run regression suite and partner certification tests",
			"Promote mapping package with change ticket linkage",
		},
		"warnings": warnings,
		"toolContracts": []any{
			contract("cleo.mapping.apply",
				"Apply generated mapping rules to CIC tenant project",
				"tenantId", "projectId", "mappingRules"),
			contract("transform.function.deploy",
				"Deploy custom transformation helpers required by the mapping",
				"projectId", "functionSpecs", "version"),
			contract("test.suite.execute",
				"Execute generated mapping regression suite",
				"projectId", "testCases", "environment"),
		},
	}, nil
}
