package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
)

// MemoryStore is an in-memory Store implementation used for tests and
// store-less deployments. Records and events are deep-copied on both write
// and read so callers cannot mutate stored state.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*schema.SkillExecutionRecord
	events     map[string][]*Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*schema.SkillExecutionRecord),
		events:     make(map[string][]*Event),
	}
}

func (m *MemoryStore) CreateExecution(ctx context.Context, rec *schema.SkillExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[rec.ExecutionID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", rec.ExecutionID)
	}
	m.executions[rec.ExecutionID] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) UpdateExecution(ctx context.Context, rec *schema.SkillExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[rec.ExecutionID]; !exists {
		return storeNotFound("execution", rec.ExecutionID)
	}
	m.executions[rec.ExecutionID] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) GetExecution(ctx context.Context, executionID string) (*schema.SkillExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return nil, storeNotFound("execution", executionID)
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.SkillExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*schema.SkillExecutionRecord
	for _, rec := range m.executions {
		if filter.SkillName != "" && rec.SkillName != filter.SkillName {
			continue
		}
		if filter.Status != "" && rec.FinalStatus != filter.Status {
			continue
		}
		if filter.Since != nil && rec.StartedAt.Before(*filter.Since) {
			continue
		}
		records = append(records, copyRecord(rec))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(records) {
			return nil, nil
		}
		records = records[filter.Offset:]
	}
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (m *MemoryStore) PruneExecutions(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, schema.NewError(schema.ErrCodeValidation, "keep must be non-negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bySkill := make(map[string][]*schema.SkillExecutionRecord)
	for _, rec := range m.executions {
		bySkill[rec.SkillName] = append(bySkill[rec.SkillName], rec)
	}

	deleted := 0
	for _, recs := range bySkill {
		if len(recs) <= keep {
			continue
		}
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		})
		for _, rec := range recs[keep:] {
			delete(m.executions, rec.ExecutionID)
			delete(m.events, rec.ExecutionID)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *event
	e.Sequence = int64(len(m.events[e.ExecutionID])) + 1
	e.ID = e.Sequence
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.events[e.ExecutionID] = append(m.events[e.ExecutionID], &e)

	event.Sequence = e.Sequence
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events[executionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func copyRecord(rec *schema.SkillExecutionRecord) *schema.SkillExecutionRecord {
	cp := *rec
	if rec.Inputs != nil {
		cp.Inputs = make(map[string]any, len(rec.Inputs))
		for k, v := range rec.Inputs {
			cp.Inputs[k] = v
		}
	}
	if rec.Steps != nil {
		cp.Steps = make([]schema.StepResult, len(rec.Steps))
		copy(cp.Steps, rec.Steps)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
