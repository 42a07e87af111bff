package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the event sink; FSMs emit lifecycle events
// through it on every transition that maps to an event type.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Execution FSM ---

type executionHookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM manages skill execution lifecycle transitions.
type ExecutionFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[executionHookKey][]TransitionHook
	after    map[executionHookKey][]TransitionHook
}

// NewExecutionFSM creates an ExecutionFSM that emits events via the given appender.
func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{
		appender: appender,
		before:   make(map[executionHookKey][]TransitionHook),
		after:    make(map[executionHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before an execution transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := executionHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after an execution transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := executionHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes an execution state transition, emitting
// the corresponding lifecycle event. Terminal transitions carry the final
// status in the event payload; extra maps from the caller are merged in.
// The caller persists the new state.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID, skillName string, from, to schema.ExecutionStatus, extra ...map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := executionHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := executionEventType(to)
	if eventType != "" {
		payload := map[string]any{}
		if eventType == schema.EventSkillCompleted {
			payload["final_status"] = string(to)
		}
		mergePayload(payload, extra)

		event := &store.Event{
			ExecutionID: executionID,
			SkillName:   skillName,
			Type:        eventType,
			Payload:     marshalPayload(payload),
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit execution event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// executionEventType maps a target status to its lifecycle event. Every
// terminal status maps to skill_completed, so a run emits exactly one.
func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		return schema.EventSkillStarted
	case schema.ExecutionStatusSucceeded, schema.ExecutionStatusFailed, schema.ExecutionStatusAborted:
		return schema.EventSkillCompleted
	default:
		return ""
	}
}

// --- Step FSM ---

type stepHookKey struct {
	from, to schema.StepStatus
}

// StepFSM manages step lifecycle state transitions.
type StepFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[stepHookKey][]TransitionHook
	after    map[stepHookKey][]TransitionHook
}

// NewStepFSM creates a StepFSM that emits events via the given appender.
func NewStepFSM(appender EventAppender) *StepFSM {
	return &StepFSM{
		appender: appender,
		before:   make(map[stepHookKey][]TransitionHook),
		after:    make(map[stepHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a step transition.
func (f *StepFSM) OnBefore(from, to schema.StepStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stepHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a step transition.
func (f *StepFSM) OnAfter(from, to schema.StepStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stepHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a step state transition, emitting the
// corresponding step event. Terminal transitions carry the step status in
// the event payload; extra maps from the caller (duration, skip reason,
// attempt) are merged in.
func (f *StepFSM) Transition(ctx context.Context, executionID, skillName, stepName string, from, to schema.StepStatus, extra ...map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStepTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(stepName).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := stepHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := stepEventType(from, to)
	if eventType != "" {
		payload := map[string]any{}
		if eventType == schema.EventStepCompleted {
			payload["status"] = string(to)
		}
		mergePayload(payload, extra)

		event := &store.Event{
			ExecutionID: executionID,
			SkillName:   skillName,
			StepName:    stepName,
			Type:        eventType,
			Payload:     marshalPayload(payload),
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit step event: %s", err.Error()).
				WithStep(stepName).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	allowed, ok := ValidStepTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// stepEventType maps a step transition to its event. Re-entry into running
// from retrying emits nothing; step_retrying already covered the attempt.
func stepEventType(from, to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		if from == schema.StepStatusRetrying {
			return ""
		}
		return schema.EventStepStarted
	case schema.StepStatusSuccess, schema.StepStatusFailed, schema.StepStatusSkipped:
		return schema.EventStepCompleted
	case schema.StepStatusRetrying:
		return schema.EventStepRetrying
	default:
		return ""
	}
}

func mergePayload(payload map[string]any, extra []map[string]any) {
	for _, m := range extra {
		for k, v := range m {
			payload[k] = v
		}
	}
}

func marshalPayload(payload map[string]any) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}

// --- Transition tables ---

// ValidExecutionTransitions defines the allowed execution state transitions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusCreated:    {schema.ExecutionStatusValidating, schema.ExecutionStatusAborted},
	schema.ExecutionStatusValidating: {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
	schema.ExecutionStatusRunning:    {schema.ExecutionStatusSucceeded, schema.ExecutionStatusFailed, schema.ExecutionStatusAborted},
	schema.ExecutionStatusSucceeded:  {},
	schema.ExecutionStatusFailed:     {},
	schema.ExecutionStatusAborted:    {},
}

// ValidStepTransitions defines the allowed step state transitions.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:  {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:  {schema.StepStatusSuccess, schema.StepStatusFailed, schema.StepStatusSkipped, schema.StepStatusRetrying},
	schema.StepStatusRetrying: {schema.StepStatusRunning, schema.StepStatusFailed},
	schema.StepStatusSuccess:  {},
	schema.StepStatusFailed:   {},
	schema.StepStatusSkipped:  {},
}
