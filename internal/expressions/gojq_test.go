package expressions

import (
	"context"
	"testing"

	"github.com/rendis/skillrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQ_SingleOutput(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	data := map[string]any{
		"steps": map[string]any{
			"fetch": map[string]any{
				"output": map[string]any{"items": []any{float64(1), float64(2), float64(3)}},
			},
		},
	}

	out, err := e.Evaluate(context.Background(), `.steps.fetch.output.items | length`, data)
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestGoJQ_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"inputs": map[string]any{"items": []any{"a", "b"}},
	}

	out, err := e.Evaluate(context.Background(), `.inputs.items[]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_NormalizesIntegers(t *testing.T) {
	e := NewGoJQEngine()

	data := map[string]any{
		"inputs": map[string]any{"n": int64(21)},
	}

	out, err := e.Evaluate(context.Background(), `.inputs.n * 2`, data)
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[unclosed`, map[string]any{})
	require.Error(t, err)

	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeValidation, skErr.Code)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
}
