package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/pkg/schema"
)

type recordingAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (r *recordingAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAppender) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingAppender) payload(t *testing.T, eventType string) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type != eventType {
			continue
		}
		var payload map[string]any
		require.NoError(t, json.Unmarshal(e.Payload, &payload))
		return payload
	}
	t.Fatalf("no %s event recorded", eventType)
	return nil
}

func TestExecutionFSM_HappyPath(t *testing.T) {
	app := &recordingAppender{}
	fsm := NewExecutionFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", schema.ExecutionStatusCreated, schema.ExecutionStatusValidating))
	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", schema.ExecutionStatusValidating, schema.ExecutionStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", schema.ExecutionStatusRunning, schema.ExecutionStatusSucceeded))

	assert.Equal(t, []string{schema.EventSkillStarted, schema.EventSkillCompleted}, app.types())
	assert.Equal(t, "succeeded", app.payload(t, schema.EventSkillCompleted)["final_status"])
}

func TestExecutionFSM_CompletedPayloadCarriesFinalStatus(t *testing.T) {
	app := &recordingAppender{}
	fsm := NewExecutionFSM(app)

	require.NoError(t, fsm.Transition(context.Background(), "e1", "deploy", schema.ExecutionStatusRunning, schema.ExecutionStatusFailed))
	assert.Equal(t, "failed", app.payload(t, schema.EventSkillCompleted)["final_status"])
}

func TestExecutionFSM_InvalidTransition(t *testing.T) {
	fsm := NewExecutionFSM(&recordingAppender{})

	err := fsm.Transition(context.Background(), "e1", "deploy", schema.ExecutionStatusCreated, schema.ExecutionStatusSucceeded)
	require.Error(t, err)
	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, skErr.Code)
}

func TestExecutionFSM_TerminalIsFinal(t *testing.T) {
	fsm := NewExecutionFSM(&recordingAppender{})
	err := fsm.Transition(context.Background(), "e1", "deploy", schema.ExecutionStatusSucceeded, schema.ExecutionStatusFailed)
	require.Error(t, err)
}

func TestExecutionFSM_Hooks(t *testing.T) {
	app := &recordingAppender{}
	fsm := NewExecutionFSM(app)

	var order []string
	fsm.OnBefore(schema.ExecutionStatusValidating, schema.ExecutionStatusRunning, func(from, to string) error {
		order = append(order, "before")
		return nil
	})
	fsm.OnAfter(schema.ExecutionStatusValidating, schema.ExecutionStatusRunning, func(from, to string) error {
		order = append(order, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "e1", "deploy", schema.ExecutionStatusValidating, schema.ExecutionStatusRunning))
	assert.Equal(t, []string{"before", "after"}, order)
}

func TestStepFSM_EventMapping(t *testing.T) {
	app := &recordingAppender{}
	fsm := NewStepFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", "apply", schema.StepStatusPending, schema.StepStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", "apply", schema.StepStatusRunning, schema.StepStatusRetrying))
	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", "apply", schema.StepStatusRetrying, schema.StepStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "e1", "deploy", "apply", schema.StepStatusRunning, schema.StepStatusSuccess))

	// Re-entry from retrying emits no second step_started.
	assert.Equal(t, []string{schema.EventStepStarted, schema.EventStepRetrying, schema.EventStepCompleted}, app.types())
	assert.Equal(t, "success", app.payload(t, schema.EventStepCompleted)["status"])
}

func TestStepFSM_PayloadExtrasMerged(t *testing.T) {
	app := &recordingAppender{}
	fsm := NewStepFSM(app)

	extra := map[string]any{"duration_ms": int64(42), "attempt": 2}
	require.NoError(t, fsm.Transition(context.Background(), "e1", "deploy", "apply", schema.StepStatusRunning, schema.StepStatusFailed, extra))

	payload := app.payload(t, schema.EventStepCompleted)
	assert.Equal(t, "failed", payload["status"])
	assert.Equal(t, float64(42), payload["duration_ms"])
	assert.Equal(t, float64(2), payload["attempt"])
}

func TestStepFSM_SkipFromPending(t *testing.T) {
	app := &recordingAppender{}
	fsm := NewStepFSM(app)

	require.NoError(t, fsm.Transition(context.Background(), "e1", "deploy", "apply", schema.StepStatusPending, schema.StepStatusSkipped))
	assert.Equal(t, []string{schema.EventStepCompleted}, app.types())
	assert.Equal(t, "skipped", app.payload(t, schema.EventStepCompleted)["status"])
}

func TestStepFSM_InvalidTransition(t *testing.T) {
	fsm := NewStepFSM(&recordingAppender{})

	err := fsm.Transition(context.Background(), "e1", "deploy", "apply", schema.StepStatusSuccess, schema.StepStatusRunning)
	require.Error(t, err)
	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, skErr.Code)
	assert.Equal(t, "apply", skErr.Step)
}
