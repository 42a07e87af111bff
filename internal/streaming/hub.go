package streaming

import (
	"context"
	"slices"
	"time"
)

// StreamEvent is a real-time event emitted during skill execution.
type StreamEvent struct {
	ExecutionID string    `json:"execution_id"`
	SkillName   string    `json:"skill_name"`
	StepName    string    `json:"step_name,omitempty"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	SkillName   string   `json:"skill_name,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// matches reports whether an event passes the filter. Empty fields match
// everything.
func (f EventFilter) matches(e StreamEvent) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.SkillName != "" && f.SkillName != e.SkillName {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}

// EventHub provides pub/sub for real-time execution events.
// Publishing is fire-and-forget: subscribers never block or fail a run.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
