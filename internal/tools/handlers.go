package tools

// HandlerContext gives payload handlers access to the data a tool payload
// can be built from: the workflow input and the output of the step that
// emitted the contract.
type HandlerContext struct {
	WorkflowInput    map[string]any
	LatestStepOutput map[string]any
}

// PayloadHandler builds the candidate payload fields for one tool. The
// executor then narrows them to the contract's declared requiredInputs.
type PayloadHandler func(hc HandlerContext) map[string]any

// builtinHandlers maps tool names to their payload handlers.
func builtinHandlers() map[string]PayloadHandler {
	return map[string]PayloadHandler{
		"project.plan.sync": func(hc HandlerContext) map[string]any {
			return map[string]any{
				"projectId":    hc.WorkflowInput["projectId"],
				"milestones":   nestedList(hc.WorkflowInput, "program", "milestones"),
				"dependencies": nestedList(hc.WorkflowInput, "program", "dependencies"),
			}
		},
		"test.execution.run": func(hc HandlerContext) map[string]any {
			suiteID := nestedValue(hc.WorkflowInput, "test", "suiteId")
			if suiteID == nil {
				suiteID = "default-regression"
			}
			return map[string]any{
				"projectId":    hc.WorkflowInput["projectId"],
				"documentType": hc.WorkflowInput["documentType"],
				"suiteId":      suiteID,
			}
		},
		"certification.report.publish": func(hc HandlerContext) map[string]any {
			return map[string]any{
				"projectId":             hc.WorkflowInput["projectId"],
				"qualityScore":          hc.LatestStepOutput["qualityScore"],
				"certificationDecision": hc.LatestStepOutput["certificationDecision"],
				"blockers":              listOrEmpty(hc.LatestStepOutput["blockers"]),
			}
		},
		"stakeholder.status.publish": func(hc HandlerContext) map[string]any {
			return map[string]any{
				"projectId":         hc.WorkflowInput["projectId"],
				"health":            hc.LatestStepOutput["health"],
				"criticalPathItems": listOrEmpty(hc.LatestStepOutput["criticalPathItems"]),
				"next30DayPlan":     listOrEmpty(hc.LatestStepOutput["next30DayPlan"]),
			}
		},
	}
}

// pickFields narrows a source map to the contract's required input fields.
// Absent fields are omitted rather than set to nil.
func pickFields(source map[string]any, required []string) map[string]any {
	payload := make(map[string]any, len(required))
	for _, key := range required {
		if v, ok := source[key]; ok && v != nil {
			payload[key] = v
		}
	}
	return payload
}

func nestedValue(m map[string]any, keys ...string) any {
	var cur any = m
	for _, key := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func nestedList(m map[string]any, keys ...string) any {
	return listOrEmpty(nestedValue(m, keys...))
}

func listOrEmpty(v any) any {
	if v == nil {
		return []any{}
	}
	return v
}
