package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/skillrun/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// skillSchemaJSON is the JSON Schema for SkillDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const skillSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://skillrun.dev/schemas/skill.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "inputs": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/input" }
    },
    "config": { "type": "object" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "input": {
      "type": "object",
      "properties": {
        "required": { "type": "boolean" },
        "type": {
          "type": "string",
          "enum": ["string", "number", "boolean", "object", "array"]
        },
        "default": {}
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "tool": { "type": "string" },
        "args": { "type": "object" },
        "compute": { "$ref": "#/$defs/compute" },
        "condition": { "type": "string" },
        "confirmation": { "$ref": "#/$defs/confirmation" },
        "on_error": {
          "type": "string",
          "enum": ["abort", "continue", "retry", "auto_heal"]
        },
        "retry_limit": {
          "type": "integer",
          "minimum": 1
        },
        "backoff": {
          "type": "string",
          "enum": ["none", "constant", "linear", "exponential"]
        },
        "delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "max_delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "output_binding": {
          "type": "string",
          "minLength": 1
        }
      },
      "additionalProperties": false
    },
    "compute": {
      "type": "object",
      "required": ["expression"],
      "properties": {
        "engine": {
          "type": "string",
          "enum": ["expr", "cel", "jq"]
        },
        "expression": {
          "type": "string",
          "minLength": 1
        }
      },
      "additionalProperties": false
    },
    "confirmation": {
      "type": "object",
      "required": ["message", "options"],
      "properties": {
        "message": {
          "type": "string",
          "minLength": 1
        },
        "options": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string", "minLength": 1 }
        },
        "timeout_seconds": {
          "type": "integer",
          "minimum": 1
        },
        "default_option": { "type": "string" },
        "proceed_option": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates skill definitions against the embedded
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	skillSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the skill schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(skillSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal skill schema: %w", err)
	}
	if err := c.AddResource("https://skillrun.dev/schemas/skill.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add skill schema resource: %w", err)
	}

	compiled, err := c.Compile("https://skillrun.dev/schemas/skill.json")
	if err != nil {
		return nil, fmt.Errorf("compile skill schema: %w", err)
	}

	return &JSONSchemaValidator{skillSchema: compiled}, nil
}

// ValidateDefinition validates a SkillDefinition against the skill JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.SkillDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "skill definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize skill definition").WithCause(err)
	}

	if err := v.skillSchema.Validate(doc); err != nil {
		return toSkillError(err)
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSkillError converts a jsonschema.ValidationError into a SkillError
// with clear, actionable messages.
func toSkillError(err error) *schema.SkillError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
