package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tradewire/agentcore/internal/logging"
	"github.com/tradewire/agentcore/internal/policy"
	"github.com/tradewire/agentcore/internal/store"
	"github.com/tradewire/agentcore/internal/tools"
	"github.com/tradewire/agentcore/pkg/schema"
)

// runStep executes one step with retry. Every try inserts a fresh attempt
// row; attempt numbers stay contiguous per (run, step).
func (o *Orchestrator) runStep(ctx context.Context, run *store.WorkflowRun, stepName string, fn StepFunc, input map[string]any, exec schema.ExecutionConfig, retry schema.RetryPolicy, pol policy.Policy) (map[string]any, error) {
	ctx = logging.WithStep(ctx, stepName)

	var lastErr error
	for try := 1; try <= retry.MaxAttempts; try++ {
		attempt := &store.WorkflowStep{
			TenantID: run.TenantID,
			RunID:    run.ID,
			StepName: stepName,
		}
		if err := o.store.CreateStepAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		o.events.Publish(ctx, run.TenantID, run.ID, schema.EventStepStarted, map[string]any{
			"step":    stepName,
			"attempt": attempt.Attempt,
		})

		output, err := callStep(ctx, stepName, fn, input)
		if err == nil {
			output = o.executeTools(ctx, run, input, output, exec, retry, pol)
			outputJSON, mErr := json.Marshal(output)
			if mErr != nil {
				err = schema.NewErrorf(schema.ErrCodeExecution,
					"step %s output is not JSON-serializable", stepName).WithStep(stepName).WithCause(mErr)
			} else {
				if err := o.store.CompleteStepAttempt(ctx, attempt.ID, schema.StepStatusCompleted, outputJSON, ""); err != nil {
					return nil, err
				}
				o.events.Publish(ctx, run.TenantID, run.ID, schema.EventStepCompleted, map[string]any{
					"step":    stepName,
					"attempt": attempt.Attempt,
				})
				return output, nil
			}
		}

		lastErr = err
		if sErr := o.store.CompleteStepAttempt(ctx, attempt.ID, schema.StepStatusFailed, nil, err.Error()); sErr != nil {
			return nil, sErr
		}
		o.logger.WarnContext(ctx, "step attempt failed",
			slog.Int("attempt", attempt.Attempt),
			slog.String("error", err.Error()),
		)

		if try < retry.MaxAttempts {
			delay := Backoff(retry, try)
			o.events.Publish(ctx, run.TenantID, run.ID, schema.EventStepRetrying, map[string]any{
				"step":      stepName,
				"attempt":   attempt.Attempt,
				"error":     err.Error(),
				"backoffMs": delay.Milliseconds(),
			})
			if waitErr := WaitForBackoff(ctx, delay); waitErr != nil {
				lastErr = waitErr
				break
			}
		}
	}

	o.events.Publish(ctx, run.TenantID, run.ID, schema.EventStepFailed, map[string]any{
		"step":  stepName,
		"error": lastErr.Error(),
	})
	return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
		"step %s failed after %d attempts: %s", stepName, retry.MaxAttempts, lastErr.Error()).
		WithStep(stepName).
		WithCause(lastErr)
}

// callStep invokes a step function, converting a panic into a step error
// so the attempt flows through the normal fail/retry path instead of
// stranding the run in a non-terminal state.
func callStep(ctx context.Context, stepName string, fn StepFunc, input map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = schema.NewErrorf(schema.ErrCodeExecution,
				"step %s panicked: %v", stepName, r).WithStep(stepName)
		}
	}()
	return fn(ctx, input)
}

// executeTools runs the step's tool contracts and attaches the results to
// the step output. Tool failures never fail the owning step.
func (o *Orchestrator) executeTools(ctx context.Context, run *store.WorkflowRun, input, output map[string]any, exec schema.ExecutionConfig, retry schema.RetryPolicy, pol policy.Policy) map[string]any {
	contracts := schema.ContractsFromOutput(output)
	if len(contracts) == 0 {
		return output
	}
	results := o.tools.ExecuteContracts(ctx, tools.Request{
		TenantID:  run.TenantID,
		RunID:     run.ID,
		AdapterID: run.Adapter,
		Contracts: contracts,
		Context: tools.HandlerContext{
			WorkflowInput:    input,
			LatestStepOutput: output,
		},
		Execution: exec,
		Retry:     retry,
		Backends:  pol.ToolBackends,
	})
	output["toolResults"] = results
	return output
}

// recordSkipped writes a skipped attempt row for a step disabled by input
// flags so the run detail shows why it never ran.
func (o *Orchestrator) recordSkipped(ctx context.Context, run *store.WorkflowRun, stepName string) {
	attempt := &store.WorkflowStep{
		TenantID: run.TenantID,
		RunID:    run.ID,
		StepName: stepName,
	}
	if err := o.store.CreateStepAttempt(ctx, attempt); err != nil {
		o.logger.ErrorContext(ctx, "failed to record skipped step",
			slog.String("step", stepName),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := o.store.CompleteStepAttempt(ctx, attempt.ID, schema.StepStatusSkipped, nil, ""); err != nil {
		o.logger.ErrorContext(ctx, "failed to record skipped step",
			slog.String("step", stepName),
			slog.String("error", err.Error()),
		)
	}
	o.events.Publish(ctx, run.TenantID, run.ID, schema.EventStepSkipped, map[string]any{
		"step": stepName,
	})
}
