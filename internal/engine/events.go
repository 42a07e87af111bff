package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/internal/streaming"
)

// eventSink fans every lifecycle event out to the persisted event log and
// the real-time hub. Persistence failures surface to the caller; hub
// delivery is best-effort.
type eventSink struct {
	store  store.Store
	hub    streaming.EventHub
	logger *slog.Logger
}

func newEventSink(s store.Store, hub streaming.EventHub, logger *slog.Logger) *eventSink {
	return &eventSink{store: s, hub: hub, logger: logger}
}

func (s *eventSink) AppendEvent(ctx context.Context, event *store.Event) error {
	// Terminal events are written after the run context is torn down.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return err
	}

	var payload any
	if len(event.Payload) > 0 {
		_ = json.Unmarshal(event.Payload, &payload)
	}
	if err := s.hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: event.ExecutionID,
		SkillName:   event.SkillName,
		StepName:    event.StepName,
		EventType:   event.Type,
		Timestamp:   event.Timestamp,
		Payload:     payload,
	}); err != nil {
		s.logger.Warn("event hub publish failed",
			"execution_id", event.ExecutionID, "event_type", event.Type, "error", err)
	}
	return nil
}

// emit appends an event with a structured payload, logging instead of
// failing when the log write does not go through.
func (s *eventSink) emit(ctx context.Context, executionID, skillName, stepName, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	event := &store.Event{
		ExecutionID: executionID,
		SkillName:   skillName,
		StepName:    stepName,
		Type:        eventType,
		Payload:     raw,
	}
	if err := s.AppendEvent(ctx, event); err != nil {
		s.logger.Warn("event append failed",
			"execution_id", executionID, "event_type", eventType, "error", err)
	}
}
