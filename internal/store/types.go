package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
)

// Event is an immutable entry in the execution event log. Sequence is
// assigned by the store, monotonically increasing per execution.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	SkillName   string          `json:"skill_name"`
	StepName    string          `json:"step_name,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ExecutionFilter specifies criteria for listing execution records.
type ExecutionFilter struct {
	SkillName string                 `json:"skill_name,omitempty"`
	Status    schema.ExecutionStatus `json:"status,omitempty"`
	Since     *time.Time             `json:"since,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
}
