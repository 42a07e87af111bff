package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// SkillRunner is the interface the scheduler uses to launch skill runs.
// Satisfied by the engine (avoids import cycle).
type SkillRunner interface {
	Run(ctx context.Context, skillName string, inputs map[string]any) error
}

// RunnerFunc adapts a function to the SkillRunner interface.
type RunnerFunc func(ctx context.Context, skillName string, inputs map[string]any) error

func (f RunnerFunc) Run(ctx context.Context, skillName string, inputs map[string]any) error {
	return f(ctx, skillName, inputs)
}

// Entry is one recurring skill schedule.
type Entry struct {
	ID             string         `json:"id"`
	SkillName      string         `json:"skill_name"`
	CronExpression string         `json:"cron_expression"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
}

// DefaultTickInterval is how often due entries are checked.
const DefaultTickInterval = 60 * time.Second

// Scheduler runs registered skills on cron schedules. Entries live in
// memory for the lifetime of the process.
type Scheduler struct {
	runner    SkillRunner
	parser    cron.Parser
	logger    *slog.Logger
	tickEvery time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	entriesMu sync.Mutex
	entries   map[string]*Entry
	inflight  map[string]struct{} // entry IDs currently executing (dedup)
}

// NewScheduler creates a Scheduler driving the given runner.
func NewScheduler(runner SkillRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:    runner,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		tickEvery: DefaultTickInterval,
		entries:   make(map[string]*Entry),
		inflight:  make(map[string]struct{}),
	}
}

// Schedule registers a skill to run on the given cron expression and
// returns the entry ID.
func (s *Scheduler) Schedule(cronExpr, skillName string, inputs map[string]any) (string, error) {
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return "", err
	}

	entry := &Entry{
		ID:             uuid.New().String(),
		SkillName:      skillName,
		CronExpression: cronExpr,
		Inputs:         inputs,
		Enabled:        true,
		NextRunAt:      &next,
	}

	s.entriesMu.Lock()
	s.entries[entry.ID] = entry
	s.entriesMu.Unlock()

	s.logger.Info("skill scheduled",
		slog.String("entry_id", entry.ID),
		slog.String("skill", skillName),
		slog.String("cron", cronExpr),
	)
	return entry.ID, nil
}

// Unschedule removes an entry. Removing an unknown ID is a no-op.
func (s *Scheduler) Unschedule(entryID string) {
	s.entriesMu.Lock()
	delete(s.entries, entryID)
	s.entriesMu.Unlock()
}

// SetEnabled toggles an entry without removing it.
func (s *Scheduler) SetEnabled(entryID string, enabled bool) error {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("schedule entry %q not found", entryID)
	}
	entry.Enabled = enabled
	return nil
}

// Entries returns a snapshot of all registered entries, ordered by skill name.
func (s *Scheduler) Entries() []Entry {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SkillName == out[j].SkillName {
			return out[i].ID < out[j].ID
		}
		return out[i].SkillName < out[j].SkillName
	})
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled entry that is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.entriesMu.Lock()
	var due []*Entry
	for _, entry := range s.entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || !entry.NextRunAt.After(now) {
			due = append(due, entry)
		}
	}
	s.entriesMu.Unlock()

	for _, entry := range due {
		if !s.tryAcquire(entry.ID) {
			continue // previous run still in flight
		}
		if err := s.runEntry(ctx, entry, now); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(entry.ID)
	}
}

// runEntry executes one due entry and updates its timestamps.
func (s *Scheduler) runEntry(ctx context.Context, entry *Entry, now time.Time) error {
	s.logger.Info("running scheduled skill",
		slog.String("entry_id", entry.ID),
		slog.String("skill", entry.SkillName),
	)

	err := s.runner.Run(ctx, entry.SkillName, entry.Inputs)
	status := "success"
	if err != nil {
		status = "error"
	}

	next, calcErr := s.CalculateNextRun(entry.CronExpression, now)
	if calcErr != nil {
		return fmt.Errorf("calculate next run for entry %q: %w", entry.ID, calcErr)
	}

	s.entriesMu.Lock()
	if live, ok := s.entries[entry.ID]; ok {
		live.LastRunAt = &now
		live.NextRunAt = &next
		live.LastRunStatus = status
	}
	s.entriesMu.Unlock()

	return err
}

// tryAcquire marks an entry as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(entryID string) bool {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	if _, ok := s.inflight[entryID]; ok {
		return false
	}
	s.inflight[entryID] = struct{}{}
	return true
}

func (s *Scheduler) release(entryID string) {
	s.entriesMu.Lock()
	defer s.entriesMu.Unlock()
	delete(s.inflight, entryID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
