package expressions

import "context"

// Engine evaluates expressions within skill steps.
// Three implementations: Expr (default compute), CEL (conditions), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
