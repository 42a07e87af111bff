package engine

import (
	"context"
	"sync"

	"github.com/rendis/skillrun/internal/expressions"
	"github.com/rendis/skillrun/pkg/schema"
)

// runContext is the single-owner state of one in-flight execution. The run
// goroutine is the only writer; Status snapshots go through the mutex.
type runContext struct {
	executionID string
	def         *schema.SkillDefinition
	scope       *expressions.Scope
	cancel      context.CancelFunc

	mu     sync.Mutex
	record *schema.SkillExecutionRecord
}

func newRunContext(executionID string, def *schema.SkillDefinition, record *schema.SkillExecutionRecord, scope *expressions.Scope, cancel context.CancelFunc) *runContext {
	return &runContext{
		executionID: executionID,
		def:         def,
		scope:       scope,
		cancel:      cancel,
		record:      record,
	}
}

func (rc *runContext) setStatus(status schema.ExecutionStatus) {
	rc.mu.Lock()
	rc.record.FinalStatus = status
	rc.mu.Unlock()
}

// addResult appends a step result in execution order.
func (rc *runContext) addResult(res schema.StepResult) {
	rc.mu.Lock()
	rc.record.Steps = append(rc.record.Steps, res)
	rc.mu.Unlock()
}

// snapshot returns a copy of the record safe to hand out while the run is
// still mutating it.
func (rc *runContext) snapshot() *schema.SkillExecutionRecord {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	cp := *rc.record
	cp.Steps = make([]schema.StepResult, len(rc.record.Steps))
	copy(cp.Steps, rc.record.Steps)
	if rc.record.Inputs != nil {
		cp.Inputs = make(map[string]any, len(rc.record.Inputs))
		for k, v := range rc.record.Inputs {
			cp.Inputs[k] = v
		}
	}
	return &cp
}
