package expressions

import (
	"context"

	"github.com/rendis/skillrun/pkg/schema"
)

// Engines bundles the three expression engines and dispatches compute steps
// by engine name. The zero value is not usable; use NewEngines.
type Engines struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewEngines creates the full engine set.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}, nil
}

// CEL returns the condition engine.
func (e *Engines) CEL() *CELEngine {
	return e.cel
}

// Compute evaluates a compute spec against the scope data. An empty engine
// name selects expr.
func (e *Engines) Compute(ctx context.Context, spec *schema.ComputeSpec, data map[string]any) (any, error) {
	var engine Engine
	switch spec.Engine {
	case schema.ComputeEngineExpr, "":
		engine = e.expr
	case schema.ComputeEngineCEL:
		engine = e.cel
	case schema.ComputeEngineJQ:
		engine = e.jq
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown compute engine %q; available: expr, cel, jq", spec.Engine)
	}
	return engine.Evaluate(ctx, spec.Expression, data)
}
