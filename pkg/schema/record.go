package schema

import "time"

// SkillExecutionRecord captures the full outcome of one skill run.
type SkillExecutionRecord struct {
	ExecutionID string          `json:"execution_id"`
	SkillName   string          `json:"skill_name"`
	FinalStatus ExecutionStatus `json:"final_status"`
	Inputs      map[string]any  `json:"inputs,omitempty"`
	Steps       []StepResult    `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// StepResult is the per-step entry of a SkillExecutionRecord. Results
// appear in execution order, one entry per attempted or skipped step.
type StepResult struct {
	StepName   string     `json:"step_name"`
	Status     StepStatus `json:"status"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Attempt    int        `json:"attempt"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
}
