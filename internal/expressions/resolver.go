package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/skillrun/pkg/schema"
)

// Unresolved marks a template reference whose path could not be found in
// the scope and that carried no default. Callers decide whether an
// unresolved value is an error (step args) or tolerable (diagnostics).
type Unresolved struct {
	Path string
}

func (u Unresolved) String() string {
	return fmt.Sprintf("<unresolved:%s>", u.Path)
}

// Resolver substitutes {{...}} references in step arguments using a Scope.
// A string that is exactly one token ("{{ steps.fetch.output }}") resolves
// to the referenced value with its type preserved. Tokens embedded in a
// larger string are stringified in place.
type Resolver struct{}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveArgs resolves every template reference in a step's args map.
// Any reference that cannot be resolved (and has no default) fails the
// whole map with a template error naming the path.
func (r *Resolver) ResolveArgs(args map[string]any, scope *Scope) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	resolved, err := r.ResolveValue(args, scope)
	if err != nil {
		return nil, err
	}
	out := resolved.(map[string]any)
	if path, found := firstUnresolved(out); found {
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"unresolved reference {{%s}} in step arguments", path).
			WithDetails(map[string]any{"path": path})
	}
	return out, nil
}

// ResolveValue walks a value recursively, resolving template references in
// every string it contains. Maps and slices are rebuilt; other values pass
// through unchanged. Missing references without defaults become Unresolved
// markers rather than errors.
func (r *Resolver) ResolveValue(v any, scope *Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString scans one string for {{...}} tokens.
// If the entire string is a single token, the resolved value is returned
// as-is (type preserved). Otherwise each token is stringified inline.
func (r *Resolver) resolveString(input string, scope *Scope) (any, error) {
	idx := strings.Index(input, "{{")
	if idx == -1 {
		return input, nil
	}

	// Whole-token case: "{{ path }}" and nothing else.
	if idx == 0 {
		end := strings.Index(input, "}}")
		if end != -1 && strings.TrimSpace(input[end+2:]) == "" && end+2 == len(input) {
			return r.resolveToken(input[2:end], scope)
		}
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "{{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeTemplate, "unclosed {{ expression")
		}
		end += start

		val, err := r.resolveToken(input[start:end], scope)
		if err != nil {
			return nil, err
		}
		if u, ok := val.(Unresolved); ok {
			return u, nil
		}

		result.WriteString(stringify(val))
		i = end + 2
	}

	return result.String(), nil
}

// resolveToken resolves the inside of one {{...}} token: a namespace path
// optionally followed by "| default <literal>".
func (r *Resolver) resolveToken(token string, scope *Scope) (any, error) {
	expr := strings.TrimSpace(token)
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeTemplate, "empty reference: {{  }}")
	}
	if strings.Contains(expr, "{{") {
		return nil, schema.NewError(schema.ErrCodeTemplate,
			"nested references not allowed: {{...}} cannot contain {{")
	}

	path := expr
	var defVal any
	hasDefault := false

	if pipe := strings.Index(expr, "|"); pipe != -1 {
		path = strings.TrimSpace(expr[:pipe])
		filter := strings.TrimSpace(expr[pipe+1:])
		rest, ok := strings.CutPrefix(filter, "default")
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"unknown filter %q in {{%s}}; only 'default' is supported", filter, expr).
				WithDetails(map[string]any{"expression": expr})
		}
		lit := strings.TrimSpace(rest)
		if lit == "" {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"default filter in {{%s}} requires a literal value", expr)
		}
		parsed, err := parseLiteral(lit)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"invalid default literal %q in {{%s}}: %s", lit, expr, err.Error())
		}
		defVal = parsed
		hasDefault = true
	}

	ns := path
	if dot := strings.IndexByte(path, '.'); dot != -1 {
		ns = path[:dot]
	}
	switch ns {
	case "inputs", "steps", "config", "context":
	default:
		available := []string{"inputs", "steps", "config", "context"}
		return nil, schema.NewErrorf(schema.ErrCodeTemplate,
			"unknown namespace %q in {{%s}}; available: %s", ns, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}

	val, ok := scope.Lookup(path)
	if !ok {
		if hasDefault {
			return defVal, nil
		}
		return Unresolved{Path: path}, nil
	}
	return val, nil
}

// parseLiteral parses a default-filter literal: a single- or double-quoted
// string, a number, true, false, or null.
func parseLiteral(lit string) (any, error) {
	if len(lit) >= 2 {
		if (lit[0] == '\'' && lit[len(lit)-1] == '\'') ||
			(lit[0] == '"' && lit[len(lit)-1] == '"') {
			return lit[1 : len(lit)-1], nil
		}
	}
	switch lit {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("expected quoted string, number, true, false, or null")
}

// stringify converts a resolved value into its inline string representation
// for embedding within a larger string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// firstUnresolved finds the first Unresolved marker in a resolved value
// tree, returning its path.
func firstUnresolved(v any) (string, bool) {
	switch val := v.(type) {
	case Unresolved:
		return val.Path, true
	case map[string]any:
		for _, item := range val {
			if path, found := firstUnresolved(item); found {
				return path, true
			}
		}
	case []any:
		for _, item := range val {
			if path, found := firstUnresolved(item); found {
				return path, true
			}
		}
	}
	return "", false
}

// HasTemplate reports whether a string contains any {{...}} references.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}
