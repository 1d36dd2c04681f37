package schema

import "encoding/json"

// Approval mode values for ExecutionConfig.
const (
	ApprovalModeProposeOnly = "propose_only"
	ApprovalModeExecute     = "execute"
)

// Approval scopes recognized by the approval gate.
const (
	ScopeWorkflowExecute       = "workflow_execute"
	ScopeDeploymentExecute     = "deployment_execute"
	ScopePostProductionExecute = "post_production_escalation_execute"
)

// Approval records one granted or pending approval scope on a run request.
type Approval struct {
	Scope  string `json:"scope"`
	Group  string `json:"group,omitempty"`
	Status string `json:"status,omitempty"`
}

// Approved reports whether the approval has been granted.
func (a Approval) Approved() bool {
	return a.Status == "approved"
}

// ExecutionConfig is the fully resolved execution configuration of a run,
// merged from the request, the tenant policy, and static defaults.
type ExecutionConfig struct {
	ApprovalMode string     `json:"approvalMode"`
	ExecuteTools bool       `json:"executeTools"`
	EnabledTools []string   `json:"enabledTools"`
	Approvals    []Approval `json:"approvals"`
}

// ToolEnabled reports whether a tool passes the enabled-tools gate.
// An entry of "*" enables every tool.
func (c ExecutionConfig) ToolEnabled(tool string) bool {
	for _, t := range c.EnabledTools {
		if t == "*" || t == tool {
			return true
		}
	}
	return false
}

// ExecutionOverride is a partial execution configuration supplied on a
// request. Pointer fields distinguish "absent" from zero values; slice
// fields replace the underlying value wholesale when non-nil.
type ExecutionOverride struct {
	ApprovalMode *string    `json:"approvalMode,omitempty"`
	ExecuteTools *bool      `json:"executeTools,omitempty"`
	EnabledTools []string   `json:"enabledTools,omitempty"`
	Approvals    []Approval `json:"approvals,omitempty"`
}

// RetryPolicy bounds step and tool retry behavior. Backoff is linear:
// the wait before attempt n+1 is BackoffMs * n.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts"`
	BackoffMs   int `json:"backoffMs"`
}

// ToolContract is a side-effect proposal emitted by a step. RequiredInputs
// names the payload fields the tool needs, resolved from the workflow
// input and the emitting step's output.
type ToolContract struct {
	Tool           string   `json:"tool"`
	Purpose        string   `json:"purpose,omitempty"`
	RequiredInputs []string `json:"requiredInputs,omitempty"`
}

// ToolResult is the recorded outcome of one tool contract execution.
type ToolResult struct {
	Tool     string     `json:"tool"`
	Status   ToolStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`
	Payload  any        `json:"payload,omitempty"`
	Response any        `json:"response,omitempty"`
}

// ContractsFromOutput extracts the "toolContracts" list from a step output.
// Malformed entries are dropped rather than failing the step.
func ContractsFromOutput(output map[string]any) []ToolContract {
	raw, ok := output["toolContracts"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var contracts []ToolContract
	if err := json.Unmarshal(data, &contracts); err != nil {
		return nil
	}
	var valid []ToolContract
	for _, c := range contracts {
		if c.Tool != "" {
			valid = append(valid, c)
		}
	}
	return valid
}

// RunSummary is the go-live decision attached to a completed run.
type RunSummary struct {
	GoLiveRecommendation string   `json:"goLiveRecommendation"`
	BlockingReasons      []string `json:"blockingReasons"`
}

// RunResult is the aggregated outcome of a workflow execution.
type RunResult struct {
	RunID         string                    `json:"runId"`
	Workflow      string                    `json:"workflow"`
	Status        RunStatus                 `json:"status"`
	ExecutedSteps []string                  `json:"executedSteps"`
	Summary       RunSummary                `json:"summary"`
	Outputs       map[string]map[string]any `json:"outputs"`
}
