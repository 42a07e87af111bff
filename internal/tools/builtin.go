package tools

import (
	"context"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
)

// RegisterBuiltins registers the built-in tools in the given registry.
func RegisterBuiltins(reg *Registry, httpCfg HTTPConfig) error {
	if err := reg.Register(NewHTTPRequestTool(httpCfg)); err != nil {
		return err
	}

	if err := reg.RegisterFunc("echo", "Return the provided args unchanged.",
		func(ctx context.Context, args map[string]any) (*Result, error) {
			return &Result{Output: args}, nil
		}); err != nil {
		return err
	}

	return reg.RegisterFunc("sleep", "Pause for the given duration (arg: duration, e.g. \"500ms\").",
		func(ctx context.Context, args map[string]any) (*Result, error) {
			d, err := time.ParseDuration(stringArg(args, "duration", "1s"))
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "sleep: invalid duration: %s", err.Error())
			}
			select {
			case <-time.After(d):
				return &Result{Output: map[string]any{"slept": d.String()}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
}
