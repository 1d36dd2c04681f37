package schema

// Event type constants for the workflow event log and webhook fan-out.
const (
	EventRunStarted   = "workflow.run.started"
	EventRunCompleted = "workflow.run.completed"
	EventRunFailed    = "workflow.run.failed"
	EventRunResumed   = "workflow.run.resumed"

	EventStepStarted   = "workflow.step.started"
	EventStepCompleted = "workflow.step.completed"
	EventStepFailed    = "workflow.step.failed"
	EventStepRetrying  = "workflow.step.retrying"
	EventStepSkipped   = "workflow.step.skipped"

	EventWebhookTest = "webhook.test"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusHold      RunStatus = "hold"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusHold || s == RunStatusFailed
}

// StepStatus represents the lifecycle state of a single step attempt.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

// DeliveryStatus represents the lifecycle state of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Terminal reports whether the delivery has reached a final state.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// ToolStatus is the outcome of a single tool contract execution.
type ToolStatus string

const (
	ToolStatusDryRun      ToolStatus = "dry_run"
	ToolStatusSkipped     ToolStatus = "skipped"
	ToolStatusUnsupported ToolStatus = "unsupported"
	ToolStatusExecuted    ToolStatus = "executed"
	ToolStatusFailed      ToolStatus = "failed"
)

// Go-live recommendations derived from a run's blocking reasons.
const (
	RecommendationProceed = "proceed"
	RecommendationHold    = "hold"
)
