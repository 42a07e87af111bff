package expressions

import (
	"sync"

	"github.com/rendis/skillrun/pkg/schema"
)

// Scope holds all data available for template resolution and condition
// evaluation during one skill run. It enforces:
//   - Step outputs are immutable after completion (frozen on insert).
//   - Append-only: new step entries are added as each step finishes.
//   - Namespaces: inputs, steps, config, context.
type Scope struct {
	mu      sync.RWMutex
	steps   map[string]any // binding name -> {"output": ..., "status": ...}
	inputs  map[string]any // resolved skill inputs (immutable after init)
	config  map[string]any // skill-level config block (immutable after init)
	context map[string]any // run metadata (execution_id, skill, etc.)
}

// NewScope creates a Scope initialized with run-level data.
// inputs, config, and context are deep-copied to prevent external mutation.
func NewScope(inputs, config, context map[string]any) *Scope {
	return &Scope{
		steps:   make(map[string]any),
		inputs:  deepCopyMap(inputs),
		config:  deepCopyMap(config),
		context: deepCopyMap(context),
	}
}

// BindStep registers a completed step's output under its binding name.
// The value is frozen (deep-copied) at the time of insertion. Subsequent
// calls with the same binding are rejected.
func (s *Scope) BindStep(binding string, output any, status schema.StepStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[binding]; exists {
		return schema.NewErrorf(schema.ErrCodeTemplate,
			"step binding %q already registered; step outputs are immutable after completion", binding)
	}

	s.steps[binding] = map[string]any{
		"output": deepCopyAny(output),
		"status": string(status),
	}
	return nil
}

// StepBindings returns a read-only copy of the current step entries.
func (s *Scope) StepBindings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.steps)
}

// Data returns a snapshot of all namespaces keyed by namespace name,
// suitable as the variable environment for condition and compute engines.
func (s *Scope) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"inputs":  s.inputs,
		"steps":   deepCopyMap(s.steps),
		"config":  s.config,
		"context": s.context,
	}
}

// Lookup resolves a dot-delimited path starting at a namespace, e.g.
// "steps.fetch.output.url" or "inputs.region". The second return is false
// when any segment of the path is missing.
func (s *Scope) Lookup(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, false
	}

	var current any
	switch segments[0] {
	case "inputs":
		current = s.inputs
	case "steps":
		current = s.steps
	case "config":
		current = s.config
	case "context":
		current = s.context
	default:
		return nil, false
	}

	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func splitPath(path string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i == start {
				return nil // empty segment
			}
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}
	return segments
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
