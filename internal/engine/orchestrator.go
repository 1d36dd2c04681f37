package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/tradewire/agentcore/internal/logging"
	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/tools"
	"github.com/tradewire/agentcore/pkg/schema"
)

// EventPublisher fans a run event out to the event log, live streams, and
// webhook deliveries.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID, runID, eventType string, payload map[string]any)
}

// Orchestrator runs workflows: it resolves policy, executes the canonical
// step sequence with retries, runs tool contracts, derives blocking
// reasons, and persists the run lifecycle.
type Orchestrator struct {
	store    store.Store
	policies *policy.Resolver
	tools    *tools.Executor
	steps    *StepRegistry
	blocking *BlockingEvaluator
	events   EventPublisher
	logger   *slog.Logger
}

// NewOrchestrator wires an Orchestrator from its collaborators.
func NewOrchestrator(s store.Store, policies *policy.Resolver, toolExec *tools.Executor, steps *StepRegistry, events EventPublisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Orchestrator{
		store:    s,
		policies: policies,
		tools:    toolExec,
		steps:    steps,
		blocking: NewBlockingEvaluator(),
		events:   events,
		logger:   logger,
	}
}

// RunRequest starts a new workflow run.
type RunRequest struct {
	TenantID string
	Workflow string
	Adapter  string
	Input    map[string]any
}

// ResumeRequest re-executes an existing run from a resume point.
// Execution and Retry patch the stored input before re-execution; list
// fields replace wholesale when present.
type ResumeRequest struct {
	TenantID  string
	RunID     string
	FromStep  string
	Execution *schema.ExecutionOverride
	Retry     *schema.RetryPolicy
}

// Run executes a workflow end to end and returns the aggregated result.
// On unrecoverable step failure the run is marked failed and the step
// error is returned.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*schema.RunResult, error) {
	defs, ok := WorkflowSteps(req.Workflow)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported workflow: %s", req.Workflow)
	}

	pol, err := o.policies.ForTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	exec := policy.ResolveExecution(pol, executionOverrideFromInput(req.Input))
	retry := policy.ResolveRetry(pol, retryOverrideFromInput(req.Input))

	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow input is not JSON-serializable").WithCause(err)
	}

	run := &store.WorkflowRun{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		Workflow:     req.Workflow,
		Adapter:      req.Adapter,
		ProjectID:    stringField(req.Input, "projectId"),
		PartnerName:  stringField(req.Input, "partnerName"),
		Status:       schema.RunStatusRunning,
		ApprovalMode: exec.ApprovalMode,
		Input:        inputJSON,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(logging.WithTenantID(ctx, req.TenantID), run.ID)
	o.logger.InfoContext(ctx, "workflow run started",
		slog.String("workflow", req.Workflow),
		slog.String("approval_mode", exec.ApprovalMode),
	)
	o.events.Publish(ctx, req.TenantID, run.ID, schema.EventRunStarted, map[string]any{
		"workflow":  req.Workflow,
		"projectId": run.ProjectID,
	})

	return o.execute(ctx, run, pol, exec, retry, defs, 0, req.Input, nil)
}

// Resume re-executes a run starting at the chosen resume point. Steps
// before it are not re-attempted; their latest completed outputs still
// feed blocking evaluation.
func (o *Orchestrator) Resume(ctx context.Context, req ResumeRequest) (*schema.RunResult, error) {
	run, err := o.store.GetRun(ctx, req.TenantID, req.RunID)
	if err != nil {
		return nil, err
	}
	defs, ok := WorkflowSteps(run.Workflow)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "resume unsupported for workflow: %s", run.Workflow)
	}

	var input map[string]any
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &input); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "run %s has malformed stored input", run.ID).WithCause(err)
		}
	}
	if input == nil {
		input = map[string]any{}
	}
	applyExecutionOverride(input, req.Execution)
	applyRetryOverride(input, req.Retry)

	pol, err := o.policies.ForTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	exec := policy.ResolveExecution(pol, executionOverrideFromInput(input))
	retry := policy.ResolveRetry(pol, retryOverrideFromInput(input))

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "merged input is not JSON-serializable").WithCause(err)
	}
	if err := o.store.UpdateRunInput(ctx, req.TenantID, run.ID, inputJSON); err != nil {
		return nil, err
	}
	if err := o.store.ReopenRun(ctx, req.TenantID, run.ID); err != nil {
		return nil, err
	}
	run.Input = inputJSON
	run.Status = schema.RunStatusRunning

	latest, err := o.store.LatestStepStates(ctx, req.TenantID, run.ID)
	if err != nil {
		return nil, err
	}

	startIdx := len(defs)
	if req.FromStep != "" {
		idx := stepIndex(defs, req.FromStep)
		if idx < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"unknown step %q for workflow %s", req.FromStep, run.Workflow)
		}
		startIdx = idx
	} else {
		for i, def := range defs {
			if !def.Applicable(input) {
				continue
			}
			st, done := latest[def.Name]
			if !done || st.Status != schema.StepStatusCompleted {
				startIdx = i
				break
			}
		}
	}

	prior := make(map[string]map[string]any)
	for _, def := range defs[:startIdx] {
		st, ok := latest[def.Name]
		if !ok || st.Status != schema.StepStatusCompleted || len(st.Output) == 0 {
			continue
		}
		var out map[string]any
		if json.Unmarshal(st.Output, &out) == nil {
			prior[def.Name] = out
		}
	}

	ctx = logging.WithRunID(logging.WithTenantID(ctx, req.TenantID), run.ID)
	resumePoint := ""
	if startIdx < len(defs) {
		resumePoint = defs[startIdx].Name
	}
	o.logger.InfoContext(ctx, "workflow run resumed", slog.String("from_step", resumePoint))
	o.events.Publish(ctx, req.TenantID, run.ID, schema.EventRunResumed, map[string]any{
		"fromStep": resumePoint,
	})

	return o.execute(ctx, run, pol, exec, retry, defs, startIdx, input, prior)
}

// execute runs defs[startIdx:] sequentially and finalizes the run. prior
// holds outputs of steps completed before the resume point; they count for
// blocking evaluation but are not part of the returned result.
func (o *Orchestrator) execute(ctx context.Context, run *store.WorkflowRun, pol policy.Policy, exec schema.ExecutionConfig, retry schema.RetryPolicy, defs []StepDefinition, startIdx int, input map[string]any, prior map[string]map[string]any) (*schema.RunResult, error) {
	outputs := make(map[string]map[string]any)
	executed := make([]string, 0, len(defs)-startIdx)

	for _, def := range defs[startIdx:] {
		if !def.Applicable(input) {
			o.recordSkipped(ctx, run, def.Name)
			continue
		}
		fn, ok := o.steps.Resolve(run.Workflow, def.Name)
		if !ok {
			err := schema.NewErrorf(schema.ErrCodeExecution,
				"no step function registered for %s/%s", run.Workflow, def.Name).WithStep(def.Name)
			return nil, o.failRun(ctx, run, def.Name, prior, outputs, err)
		}
		output, err := o.runStep(ctx, run, def.Name, fn, input, exec, retry, pol)
		if err != nil {
			return nil, o.failRun(ctx, run, def.Name, prior, outputs, err)
		}
		outputs[def.Name] = output
		executed = append(executed, def.Name)
	}

	all := mergeOutputs(prior, outputs)
	reasons := o.blocking.Evaluate(ctx, all)
	if exec.ApprovalMode == schema.ApprovalModeExecute {
		reasons = append(reasons, policy.MissingApprovals(pol, run.Workflow, exec.Approvals)...)
	}

	recommendation := schema.RecommendationProceed
	status := schema.RunStatusCompleted
	if len(reasons) > 0 {
		recommendation = schema.RecommendationHold
		status = schema.RunStatusHold
	}

	outputJSON, err := json.Marshal(all)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "run output is not JSON-serializable").WithCause(err)
	}
	if err := o.store.CompleteRun(ctx, run.ID, store.RunCompletion{
		Status:               status,
		GoLiveRecommendation: recommendation,
		BlockingReasons:      reasons,
		Output:               outputJSON,
	}); err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "workflow run finished",
		slog.String("status", string(status)),
		slog.String("go_live_recommendation", recommendation),
		slog.Int("blocking_reasons", len(reasons)),
	)
	o.events.Publish(ctx, run.TenantID, run.ID, schema.EventRunCompleted, map[string]any{
		"status":               string(status),
		"goLiveRecommendation": recommendation,
		"blockingReasons":      reasons,
	})

	return &schema.RunResult{
		RunID:         run.ID,
		Workflow:      run.Workflow,
		Status:        status,
		ExecutedSteps: executed,
		Summary: schema.RunSummary{
			GoLiveRecommendation: recommendation,
			BlockingReasons:      reasons,
		},
		Outputs: outputs,
	}, nil
}

// failRun marks the run failed with a single synthetic blocking reason and
// returns the step error for the caller to propagate.
func (o *Orchestrator) failRun(ctx context.Context, run *store.WorkflowRun, stepName string, prior, outputs map[string]map[string]any, cause error) error {
	reason := "step_failed_" + stepName
	outputJSON, _ := json.Marshal(mergeOutputs(prior, outputs))
	if err := o.store.CompleteRun(ctx, run.ID, store.RunCompletion{
		Status:               schema.RunStatusFailed,
		GoLiveRecommendation: schema.RecommendationHold,
		BlockingReasons:      []string{reason},
		Output:               outputJSON,
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist run failure", slog.String("error", err.Error()))
	}

	o.logger.ErrorContext(ctx, "workflow run failed",
		slog.String("step", stepName),
		slog.String("error", cause.Error()),
	)
	o.events.Publish(ctx, run.TenantID, run.ID, schema.EventRunFailed, map[string]any{
		"step":            stepName,
		"error":           cause.Error(),
		"blockingReasons": []string{reason},
	})
	return cause
}

func mergeOutputs(prior, outputs map[string]map[string]any) map[string]map[string]any {
	all := make(map[string]map[string]any, len(prior)+len(outputs))
	for step, out := range prior {
		all[step] = out
	}
	for step, out := range outputs {
		all[step] = out
	}
	return all
}

func stepIndex(defs []StepDefinition, name string) int {
	for i, def := range defs {
		if def.Name == name {
			return i
		}
	}
	return -1
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func executionOverrideFromInput(input map[string]any) *schema.ExecutionOverride {
	raw, ok := input["execution"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var ov schema.ExecutionOverride
	if json.Unmarshal(data, &ov) != nil {
		return nil
	}
	return &ov
}

func retryOverrideFromInput(input map[string]any) *schema.RetryPolicy {
	raw, ok := input["retryPolicy"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var rp schema.RetryPolicy
	if json.Unmarshal(data, &rp) != nil {
		return nil
	}
	return &rp
}

func applyExecutionOverride(input map[string]any, ov *schema.ExecutionOverride) {
	if ov == nil {
		return
	}
	existing, _ := input["execution"].(map[string]any)
	if existing == nil {
		existing = map[string]any{}
	}
	data, err := json.Marshal(ov)
	if err != nil {
		return
	}
	var patch map[string]any
	if json.Unmarshal(data, &patch) != nil {
		return
	}
	for k, v := range patch {
		existing[k] = v
	}
	input["execution"] = existing
}

func applyRetryOverride(input map[string]any, rp *schema.RetryPolicy) {
	if rp == nil {
		return
	}
	data, err := json.Marshal(rp)
	if err != nil {
		return
	}
	var replacement map[string]any
	if json.Unmarshal(data, &replacement) != nil {
		return
	}
	input["retryPolicy"] = replacement
}
