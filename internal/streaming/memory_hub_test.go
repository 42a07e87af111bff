package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		ExecutionID: "exec-1",
		SkillName:   "deploy",
		EventType:   schema.EventSkillStarted,
		Timestamp:   time.Now(),
	}
	require.NoError(t, hub.Publish(context.Background(), event))

	select {
	case got := <-ch:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, schema.EventSkillStarted, got.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestMemoryHub_FilterByExecutionID(t *testing.T) {
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(context.Background(), StreamEvent{ExecutionID: "exec-2", EventType: schema.EventStepStarted}))
	require.NoError(t, hub.Publish(context.Background(), StreamEvent{ExecutionID: "exec-1", EventType: schema.EventStepStarted}))

	select {
	case got := <-ch:
		assert.Equal(t, "exec-1", got.ExecutionID)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected extra event: %+v", got)
	default:
	}
}

func TestMemoryHub_FilterByEventTypes(t *testing.T) {
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{
		EventTypes: []string{schema.EventSkillCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(context.Background(), StreamEvent{ExecutionID: "e", EventType: schema.EventStepStarted}))
	require.NoError(t, hub.Publish(context.Background(), StreamEvent{ExecutionID: "e", EventType: schema.EventSkillCompleted}))

	got := <-ch
	assert.Equal(t, schema.EventSkillCompleted, got.EventType)
}

func TestMemoryHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()

	_, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Publishing more than the channel buffer must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultChannelBuffer*2; i++ {
			_ = hub.Publish(context.Background(), StreamEvent{ExecutionID: "e", EventType: schema.EventStepStarted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	stats := hub.Stats()
	assert.Equal(t, int64(defaultChannelBuffer*2), stats.Published)
	assert.Equal(t, int64(defaultChannelBuffer), stats.Dropped)
	assert.Equal(t, 1, stats.Subscribers)
}

func TestMemoryHub_CancelRemovesSubscriber(t *testing.T) {
	hub := NewMemoryHub()

	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(context.Background(), StreamEvent{ExecutionID: "e", EventType: schema.EventStepStarted}))

	select {
	case got := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", got)
	default:
	}
}
