package agents

import (
	"context"
	"strings"
)

func inferTransform(sourceType, targetType string) string {
	switch {
	case sourceType == targetType:
		return "direct_map"
	case targetType == "number" && sourceType == "string":
		return "parse_number"
	case targetType == "date" && sourceType == "string":
		return "parse_date"
	default:
		return "custom_transform"
	}
}

// buildCoverage matches target fields to source fields by case-insensitive
// name and annotates each entry with a transform suggestion.
func buildCoverage(sourceFields, targetFields []any) []any {
	type sourceField struct {
		name, typ string
	}
	bySourceKey := make(map[string]sourceField, len(sourceFields))
	for _, v := range sourceFields {
		f, _ := v.(map[string]any)
		name := str(f, "name")
		key := strings.ToLower(name)
		if _, seen := bySourceKey[key]; !seen {
			bySourceKey[key] = sourceField{name: name, typ: str(f, "type")}
		}
	}

	coverage := make([]any, 0, len(targetFields))
	for _, v := range targetFields {
		target, _ := v.(map[string]any)
		name := str(target, "name")
		match, ok := bySourceKey[strings.ToLower(name)]
		if !ok {
			coverage = append(coverage, map[string]any{
				"targetField": name,
				"status":      "unmapped",
				"confidence":  0,
				"rationale":   "No matching source field by name",
			})
			continue
		}
		coverage = append(coverage, map[string]any{
			"targetField": name,
			"sourceField": match.name,
			"status":      "mapped",
			"confidence":  0.9,
			"transform":   inferTransform(match.typ, str(target, "type")),
			"rationale":   "Name-based match",
		})
	}
	return coverage
}

func openQuestions(coverage []any, businessRuleCount int) []any {
	var questions []any
	for _, v := range coverage {
		entry, _ := v.(map[string]any)
		if str(entry, "status") == "unmapped" {
			questions = append(questions, "Which source system fields should populate unmapped required target fields?")
			break
		}
	}
	if businessRuleCount == 0 {
		questions = append(questions, "What tolerance and exception handling rules should be applied per trading partner?")
	}
	questions = append(questions, "What are the go-live validation acceptance criteria by document type?")
	return questions
}

// SpecAnalysis derives field-level mapping coverage from the source and
// target schemas and surfaces implementation risks and open questions.
func SpecAnalysis(ctx context.Context, input map[string]any) (map[string]any, error) {
	sourceFields := list(obj(input, "sourceSchema"), "fields")
	targetFields := list(obj(input, "targetSchema"), "fields")
	documentTypes := strSlice(list(input, "targetDocumentTypes"))
	businessRules := list(input, "businessRules")

	coverage := buildCoverage(sourceFields, targetFields)
	mappedCount := 0
	for _, v := range coverage {
		entry, _ := v.(map[string]any)
		if str(entry, "status") == "mapped" {
			mappedCount++
		}
	}
	coveragePercent := percent(mappedCount, len(targetFields))

	risks := []any{}
	if coveragePercent < 70 {
		risks = append(risks, map[string]any{
			"severity": "high",
			"message":  "Low mapping coverage detected; implementation risk is elevated",
		})
	}
	hasInvoice := false
	for _, t := range documentTypes {
		if t == "invoice" {
			hasInvoice = true
		}
	}
	if hasInvoice && len(businessRules) == 0 {
		risks = append(risks, map[string]any{
			"severity": "high",
			"message":  "Invoice business rules are not defined",
		})
	}

	return map[string]any{
		"projectId":     str(input, "projectId"),
		"partnerName":   str(input, "partnerName"),
		"documentTypes": documentTypes,
		"summary": map[string]any{
			"sourceFieldCount":       len(sourceFields),
			"targetFieldCount":       len(targetFields),
			"mappedTargetFields":     mappedCount,
			"mappingCoveragePercent": coveragePercent,
		},
		"fieldCoverage": coverage,
		"openQuestions": openQuestions(coverage, len(businessRules)),
		"risks":         risks,
		"recommendedWorkflow": []any{
			"Review unmapped required fields with partner and business stakeholders",
			"Approve transformation and validation rules",
			"Lock v1 spec baseline before mapping build",
		},
		"toolContracts": []any{
			contract("cleo.mapping_draft.create",
				"Create initial CIC mapping project from approved field coverage",
				"partnerId", "documentType", "fieldCoverage"),
			contract("ticketing.issue.create",
				"Track unresolved mapping questions and source data dependencies",
				"projectId", "questions", "owner"),
			contract("docs.spec.publish",
				"Publish integration spec package for stakeholder sign-off",
				"projectId", "specVersion", "approvalGroup"),
		},
	}, nil
}
