package schema

// Event type constants for the execution event log.
const (
	EventSkillStarted   = "skill_started"
	EventSkillCompleted = "skill_completed"
	EventSkillError     = "skill_error"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepRetrying  = "step_retrying"

	EventConfirmationRequired = "confirmation_required"
	EventConfirmationResolved = "confirmation_resolved"

	EventHealAttempted = "heal_attempted"
)

// ExecutionStatus represents the lifecycle state of a skill execution.
type ExecutionStatus string

const (
	ExecutionStatusCreated    ExecutionStatus = "created"
	ExecutionStatusValidating ExecutionStatus = "validating"
	ExecutionStatusRunning    ExecutionStatus = "running"
	ExecutionStatusSucceeded  ExecutionStatus = "succeeded"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusAborted    ExecutionStatus = "aborted"
)

// Terminal reports whether the status is a terminal execution state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusAborted
}

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusRunning  StepStatus = "running"
	StepStatusSuccess  StepStatus = "success"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
	StepStatusRetrying StepStatus = "retrying"
)

// SkipReason discriminates why a step ended up skipped. All reasons map to
// the same StepStatusSkipped status value; the reason is kept for
// observability only.
type SkipReason string

const (
	SkipReasonConditionFalse     SkipReason = "condition_false"
	SkipReasonConditionError     SkipReason = "condition_error"
	SkipReasonConfirmationDenied SkipReason = "confirmation_denied"
	SkipReasonCancelled          SkipReason = "cancelled"
)

// DecisionReason records how a confirmation wait was resolved.
type DecisionReason string

const (
	DecisionReasonResponded DecisionReason = "responded"
	DecisionReasonTimeout   DecisionReason = "timeout"
	DecisionReasonCancelled DecisionReason = "cancelled"
)
