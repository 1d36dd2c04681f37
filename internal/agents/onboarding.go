package agents

import (
	"context"
	"fmt"
	"sort"
)

var defaultDocTypes = []string{"purchase_order", "invoice"}

func connectionRequirements(connectionType string) []string {
	switch connectionType {
	case "AS2":
		return []string{"as2_endpoint", "certificate_management", "mdn_support"}
	case "SFTP":
		return []string{"sftp_credentials", "directory_convention", "polling_policy"}
	case "API":
		return []string{"auth_strategy", "rate_limit_policy", "webhook_endpoint"}
	case "VAN":
		return []string{"van_mailbox", "partner_identifier_mapping"}
	default:
		return []string{"transport_profile"}
	}
}

func documentRequirements(docTypes []string) []string {
	requirements := []string{"core_document_validation", "error_handling_workflow"}
	for _, t := range docTypes {
		switch t {
		case "purchase_order":
			requirements = append(requirements, "po_field_mapping")
		case "invoice":
			requirements = append(requirements, "invoice_total_validation")
		case "shipment_notice":
			requirements = append(requirements, "shipment_tracking_mapping")
		}
	}
	return requirements
}

// Onboarding computes a partner's capability gap against what the chosen
// connection type and document types demand, and scores readiness.
func Onboarding(ctx context.Context, input map[string]any) (map[string]any, error) {
	targetDocumentTypes := strSlice(list(input, "targetDocumentTypes"))
	if len(targetDocumentTypes) == 0 {
		targetDocumentTypes = defaultDocTypes
	}

	required := make(map[string]bool)
	for _, cap := range connectionRequirements(str(input, "connectionType")) {
		required[cap] = true
	}
	for _, cap := range documentRequirements(targetDocumentTypes) {
		required[cap] = true
	}
	for _, cap := range strSlice(list(input, "requiredCapabilities")) {
		required[cap] = true
	}

	existing := make(map[string]bool)
	for _, cap := range strSlice(list(input, "existingCapabilities")) {
		existing[cap] = true
	}

	var missingCapabilities []string
	for cap := range required {
		if !existing[cap] {
			missingCapabilities = append(missingCapabilities, cap)
		}
	}
	sort.Strings(missingCapabilities)

	firstRecommendation := "Baseline capabilities are in place"
	if len(missingCapabilities) > 0 {
		firstRecommendation = fmt.Sprintf("Prioritize %s before production cutover", missingCapabilities[0])
	}

	readinessScore := clamp(percent(len(required)-len(missingCapabilities), len(required)), 0, 100)

	return map[string]any{
		"partnerName":    str(input, "partnerName"),
		"readinessScore": readinessScore,
		"requiredSteps": []any{
			"Define transport and authentication profile",
			"Map source payload fields to thin canonical contract",
			"Run test documents for each targeted document type",
			"Configure anomaly and exception routing policies",
			"Enable audit/event export to customer systems",
		},
		"missingCapabilities": missingCapabilities,
		"recommendations": []any{
			firstRecommendation,
			"Start with propose-only mode for agent actions",
			"Add approval workflow for auto-remediation above configured thresholds",
		},
	}, nil
}
