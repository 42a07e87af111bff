package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/rendis/skillrun/pkg/schema"
)

// GoJQEngine evaluates jq expressions for filtering, reshaping and
// aggregating step outputs.
type GoJQEngine struct {
	cache *compileCache[*gojq.Code]
}

// NewGoJQEngine creates a GoJQEngine with an empty program cache.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newCompileCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs a jq expression against data. Integers are widened to
// float64 first, matching jq's number model. A query yielding one value
// returns it directly; multiple values come back as []any, zero as nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.get(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	input, _ := jqNumbers(data).(map[string]any)
	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, evalError("jq", expression, err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, compileError("jq", expression, err)
	}

	// Empty environ loader blocks $ENV and env access.
	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, compileError("jq", expression, err)
	}
	return code, nil
}

// jqNumbers widens every integer in a value tree to float64.
func jqNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = jqNumbers(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = jqNumbers(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
