package validation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rendis/skillrun/pkg/schema"
)

// ResolveInputs validates provided inputs against the skill's input specs
// and applies declared defaults for missing optional inputs. The returned
// map is a new map; the provided one is not mutated.
func ResolveInputs(def *schema.SkillDefinition, provided map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(provided)+len(def.Inputs))
	for k, v := range provided {
		resolved[k] = v
	}

	result := &schema.ValidationResult{}

	names := make([]string, 0, len(def.Inputs))
	for name := range def.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := def.Inputs[name]
		path := "inputs." + name

		val, present := resolved[name]
		if !present {
			if spec.Default != nil {
				resolved[name] = spec.Default
				continue
			}
			if spec.Required {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("missing required input %q", name))
			}
			continue
		}

		if spec.Type != "" && !matchesType(val, spec.Type) {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("input %q: expected %s, got %s", name, spec.Type, typeName(val)))
		}
	}

	if err := result.ToError(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// matchesType checks a value against a declared input type.
func matchesType(val any, declared string) bool {
	switch declared {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}

// typeName returns a JSON-flavored name for a Go value's type.
func typeName(val any) string {
	switch val.(type) {
	case string:
		return "string"
	case int, int32, int64, float32, float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", val)
	}
}
