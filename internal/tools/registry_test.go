package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/rendis/skillrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	reg := NewRegistry()

	err := reg.RegisterFunc("double", "doubles n", func(ctx context.Context, args map[string]any) (*Result, error) {
		n := args["n"].(int)
		return &Result{Output: n * 2}, nil
	})
	require.NoError(t, err)

	res, err := reg.Invoke(context.Background(), "double", map[string]any{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Output)
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()

	noop := func(ctx context.Context, args map[string]any) (*Result, error) { return nil, nil }
	require.NoError(t, reg.RegisterFunc("x", "", noop))

	err := reg.RegisterFunc("x", "", noop)
	require.Error(t, err)

	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeConflict, skErr.Code)
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)

	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeNotFound, skErr.Code)
}

func TestRegistry_ToolFailureWrapped(t *testing.T) {
	reg := NewRegistry()

	boom := errors.New("connection refused")
	require.NoError(t, reg.RegisterFunc("flaky", "", func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, boom
	}))

	_, err := reg.Invoke(context.Background(), "flaky", nil)
	require.Error(t, err)

	var skErr *schema.SkillError
	require.ErrorAs(t, err, &skErr)
	assert.Equal(t, schema.ErrCodeTool, skErr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_NilResultNormalized(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.RegisterFunc("quiet", "", func(ctx context.Context, args map[string]any) (*Result, error) {
		return nil, nil
	}))

	res, err := reg.Invoke(context.Background(), "quiet", nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Output)
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()

	noop := func(ctx context.Context, args map[string]any) (*Result, error) { return nil, nil }
	require.NoError(t, reg.RegisterFunc("b", "second", noop))
	require.NoError(t, reg.RegisterFunc("a", "first", noop))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, HTTPConfig{}))

	assert.True(t, reg.Has("http.request"))
	assert.True(t, reg.Has("echo"))
	assert.True(t, reg.Has("sleep"))
}

func TestEchoTool(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, HTTPConfig{}))

	res, err := reg.Invoke(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, res.Output)
}

func TestNoopHealer(t *testing.T) {
	report, err := NoopHealer{}.AttemptFix(context.Background(), "any", "boom")
	require.NoError(t, err)
	assert.False(t, report.Fixed)
}
