package engine

import (
	"context"
	"sync"
)

// Workflow identifiers supported by the orchestrator.
const WorkflowNewPartnerImplementation = "new_partner_implementation"

// StepFunc executes one workflow step against the run input and returns
// the step output. Steps never see earlier steps' outputs; only the tool
// execution context does.
type StepFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// StepDefinition is one entry in a workflow's fixed, ordered step list.
type StepDefinition struct {
	Name       string
	Applicable func(input map[string]any) bool
}

func always(map[string]any) bool { return true }

func postProductionEnabled(input map[string]any) bool {
	pp, _ := input["postProduction"].(map[string]any)
	enabled, _ := pp["enabled"].(bool)
	return enabled
}

var newPartnerImplementationSteps = []StepDefinition{
	{Name: "integration_program", Applicable: always},
	{Name: "onboarding", Applicable: always},
	{Name: "spec_analysis", Applicable: always},
	{Name: "mapping_engineer", Applicable: always},
	{Name: "test_certification", Applicable: always},
	{Name: "deployment_readiness", Applicable: always},
	{Name: "standards_architecture", Applicable: always},
	{Name: "post_production_escalation", Applicable: postProductionEnabled},
}

// WorkflowSteps returns the canonical ordered step list for a workflow.
func WorkflowSteps(workflow string) ([]StepDefinition, bool) {
	if workflow == WorkflowNewPartnerImplementation {
		return newPartnerImplementationSteps, true
	}
	return nil, false
}

// SupportedWorkflows lists the workflow identifiers the engine can run.
func SupportedWorkflows() []string {
	return []string{WorkflowNewPartnerImplementation}
}

// StepRegistry maps (workflow, step) to the function that executes it.
// Safe for concurrent use.
type StepRegistry struct {
	mu    sync.RWMutex
	funcs map[string]map[string]StepFunc
}

// NewStepRegistry creates an empty registry.
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{funcs: make(map[string]map[string]StepFunc)}
}

// Register binds a step function. Re-registering replaces the previous one.
func (r *StepRegistry) Register(workflow, step string, fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[workflow] == nil {
		r.funcs[workflow] = make(map[string]StepFunc)
	}
	r.funcs[workflow][step] = fn
}

// Resolve returns the registered function for a step.
func (r *StepRegistry) Resolve(workflow, step string) (StepFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[workflow][step]
	return fn, ok
}
