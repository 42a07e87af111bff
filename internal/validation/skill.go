package validation

import "github.com/rendis/skillrun/pkg/schema"

// SkillValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (step name uniqueness, tool xor compute, confirmation options)
type SkillValidator struct {
	jsonSchema *JSONSchemaValidator
	tools      ToolLookup
}

// NewSkillValidator creates a SkillValidator.
// lookup may be nil to skip tool existence checks.
func NewSkillValidator(lookup ToolLookup) (*SkillValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &SkillValidator{
		jsonSchema: jsv,
		tools:      lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: the semantic stage is skipped.
func (sv *SkillValidator) Validate(def *schema.SkillDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "skill definition is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(sv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(def, sv.tools))

	return result
}

// ValidateDefinition returns a single error view of the pipeline result.
func (sv *SkillValidator) ValidateDefinition(def *schema.SkillDefinition) error {
	return sv.Validate(def).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.SkillDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	skErr, ok := err.(*schema.SkillError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if skErr.Details != nil {
		if violations, ok := skErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, skErr.Message)
	return result
}
