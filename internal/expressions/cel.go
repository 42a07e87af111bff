package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/skillrun/pkg/schema"
)

// CELEngine evaluates Common Expression Language expressions. It backs step
// conditions and is also selectable as a compute engine.
type CELEngine struct {
	env   *cel.Env
	cache *compileCache[cel.Program]
}

// NewCELEngine creates a CELEngine with a sandboxed environment. The
// environment exposes four top-level variables matching the run scope:
// inputs, steps, config and context, all typed map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("inputs", mapType),
		cel.Variable("steps", mapType),
		cel.Variable("config", mapType),
		cel.Variable("context", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: newCompileCache[cel.Program](),
	}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs an expression against data. Scope keys absent from the map
// are bound to empty maps so references to them do not error at run time.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(e.activation(data))
	if err != nil {
		return nil, evalError("CEL", expression, err)
	}
	return out.Value(), nil
}

// EvaluateCondition evaluates a condition expression and requires a boolean
// result. Any non-boolean outcome is an error.
func (e *CELEngine) EvaluateCondition(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}

	result, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeCompute,
			"condition %q evaluated to %T, expected bool", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return result, nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, compileError("CEL", expression, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, compileError("CEL", expression, err)
	}
	return prg, nil
}

// activation binds the four scope variables, defaulting missing or nil ones
// to empty maps.
func (e *CELEngine) activation(data map[string]any) map[string]any {
	activation := make(map[string]any, 4)
	for _, key := range []string{"inputs", "steps", "config", "context"} {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
