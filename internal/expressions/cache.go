package expressions

import (
	"sync"

	"github.com/rendis/skillrun/pkg/schema"
)

// compileCache memoizes compiled programs keyed by expression source. A miss
// compiles outside the lock, so two goroutines racing on the same expression
// may both compile; compilation is pure and the last store wins, so the race
// is harmless.
type compileCache[T any] struct {
	mu       sync.RWMutex
	programs map[string]T
}

func newCompileCache[T any]() *compileCache[T] {
	return &compileCache[T]{programs: make(map[string]T)}
}

func (c *compileCache[T]) get(expression string, compile func(string) (T, error)) (T, error) {
	c.mu.RLock()
	prg, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := compile(expression)
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.programs[expression] = prg
	c.mu.Unlock()
	return prg, nil
}

func compileError(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"%s compile error in %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeCompute,
		"%s evaluation failed for %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
