package tools

import "context"

// Tool is an executable unit of work targeted by a skill step.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args map[string]any) (*Result, error)
}

// Invoker resolves a tool by name and runs it. The engine depends on this
// seam only; registries, adapters, and test fakes all satisfy it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// Result is the output of a tool invocation.
type Result struct {
	Output any `json:"output,omitempty"`
}

// Info is a summary of a registered tool for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, args map[string]any) (*Result, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Invoke(ctx context.Context, args map[string]any) (*Result, error) {
	return f.Fn(ctx, args)
}
