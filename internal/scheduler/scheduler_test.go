package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	block chan struct{}
}

func (m *mockRunner) Run(_ context.Context, skillName string, _ map[string]any) error {
	m.mu.Lock()
	m.calls = append(m.calls, skillName)
	fail := m.fail[skillName]
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return fmt.Errorf("run failed for %s", skillName)
	}
	return nil
}

func (m *mockRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestScheduler(runner SkillRunner) *Scheduler {
	return NewScheduler(runner, slog.Default())
}

func TestSchedule(t *testing.T) {
	s := newTestScheduler(&mockRunner{})

	id, err := s.Schedule("*/5 * * * *", "nightly-backup", map[string]any{"target": "db"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "nightly-backup", entries[0].SkillName)
	assert.Equal(t, "*/5 * * * *", entries[0].CronExpression)
	assert.True(t, entries[0].Enabled)
	require.NotNil(t, entries[0].NextRunAt)
	assert.True(t, entries[0].NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestSchedule_InvalidCron(t *testing.T) {
	s := newTestScheduler(&mockRunner{})

	_, err := s.Schedule("not a cron", "nightly-backup", nil)
	require.Error(t, err)
	assert.Empty(t, s.Entries())
}

func TestUnschedule(t *testing.T) {
	s := newTestScheduler(&mockRunner{})

	id, err := s.Schedule("* * * * *", "cleanup", nil)
	require.NoError(t, err)

	s.Unschedule(id)
	assert.Empty(t, s.Entries())

	// Unknown ID is a no-op.
	s.Unschedule("missing")
}

func TestSetEnabled(t *testing.T) {
	s := newTestScheduler(&mockRunner{})

	id, err := s.Schedule("* * * * *", "cleanup", nil)
	require.NoError(t, err)

	require.NoError(t, s.SetEnabled(id, false))
	assert.False(t, s.Entries()[0].Enabled)

	require.NoError(t, s.SetEnabled(id, true))
	assert.True(t, s.Entries()[0].Enabled)

	assert.Error(t, s.SetEnabled("missing", true))
}

func TestTick_RunsDueEntries(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(runner)

	id, err := s.Schedule("* * * * *", "deploy", map[string]any{"env": "prod"})
	require.NoError(t, err)

	// Force the entry to be due.
	past := time.Now().UTC().Add(-time.Minute)
	s.entriesMu.Lock()
	s.entries[id].NextRunAt = &past
	s.entriesMu.Unlock()

	s.tick(context.Background())

	assert.Equal(t, 1, runner.callCount())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "success", entries[0].LastRunStatus)
	require.NotNil(t, entries[0].LastRunAt)
	require.NotNil(t, entries[0].NextRunAt)
	assert.True(t, entries[0].NextRunAt.After(*entries[0].LastRunAt))
}

func TestTick_SkipsFutureAndDisabled(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(runner)

	// Future entry: NextRunAt set by Schedule is at least the next minute.
	_, err := s.Schedule("0 0 1 1 *", "yearly", nil)
	require.NoError(t, err)

	// Due but disabled.
	id, err := s.Schedule("* * * * *", "disabled-skill", nil)
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(id, false))
	past := time.Now().UTC().Add(-time.Minute)
	s.entriesMu.Lock()
	s.entries[id].NextRunAt = &past
	s.entriesMu.Unlock()

	s.tick(context.Background())

	assert.Equal(t, 0, runner.callCount())
}

func TestTick_RecordsFailure(t *testing.T) {
	runner := &mockRunner{fail: map[string]bool{"flaky": true}}
	s := newTestScheduler(runner)

	id, err := s.Schedule("* * * * *", "flaky", nil)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	s.entriesMu.Lock()
	s.entries[id].NextRunAt = &past
	s.entriesMu.Unlock()

	s.tick(context.Background())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].LastRunStatus)
	// A failed run still advances the schedule.
	assert.True(t, entries[0].NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestTick_InflightDedup(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(runner)

	id, err := s.Schedule("* * * * *", "deploy", nil)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	s.entriesMu.Lock()
	s.entries[id].NextRunAt = &past
	s.entriesMu.Unlock()

	// Simulate a run still in flight from a previous tick.
	require.True(t, s.tryAcquire(id))
	s.tick(context.Background())
	assert.Equal(t, 0, runner.callCount())

	s.release(id)
	s.tick(context.Background())
	assert.Equal(t, 1, runner.callCount())
}

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(&mockRunner{})
	from := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"every minute", "* * * * *", time.Date(2026, 3, 10, 14, 31, 0, 0, time.UTC)},
		{"hourly on the hour", "0 * * * *", time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)},
		{"daily at midnight", "0 0 * * *", time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"every 15 minutes", "*/15 * * * *", time.Date(2026, 3, 10, 14, 45, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CalculateNextRun(tt.expr, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.CalculateNextRun("bogus", from)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(&mockRunner{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	// Stop is idempotent.
	require.NoError(t, s.Stop())

	// Can be restarted after a stop.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestRunnerFunc(t *testing.T) {
	var got string
	var fn RunnerFunc = func(_ context.Context, skillName string, _ map[string]any) error {
		got = skillName
		return nil
	}
	require.NoError(t, fn.Run(context.Background(), "deploy", nil))
	assert.Equal(t, "deploy", got)
}
