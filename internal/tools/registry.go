package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/skillrun/pkg/schema"
)

// Registry is a thread-safe name -> Tool table built at startup.
// It implements Invoker.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Returns error on duplicate name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// RegisterFunc registers a plain function as a tool.
func (r *Registry) RegisterFunc(name, description string, fn func(ctx context.Context, args map[string]any) (*Result, error)) error {
	return r.Register(&Func{ToolName: name, Desc: description, Fn: fn})
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not registered", name)
	}
	return tool, nil
}

// Invoke resolves a tool by name and runs it with the given arguments.
// A failing tool is reported as a TOOL_ERROR carrying the tool's own error
// as cause; an unknown tool is NOT_FOUND.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	res, err := tool.Invoke(ctx, args)
	if err != nil {
		if skErr, ok := err.(*schema.SkillError); ok {
			return nil, skErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q failed: %s", name, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"tool": name})
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, tool := range r.tools {
		infos = append(infos, Info{
			Name:        tool.Name(),
			Description: tool.Description(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ Invoker = (*Registry)(nil)
