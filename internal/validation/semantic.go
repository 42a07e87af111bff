package validation

import (
	"fmt"

	"github.com/rendis/skillrun/pkg/schema"
)

// ToolLookup answers whether a tool name is registered. nil skips the check.
type ToolLookup interface {
	Has(name string) bool
}

// validateSemantic performs semantic analysis on the skill definition.
// Checks the constraints JSON Schema cannot express: unique step names and
// bindings, tool xor compute, confirmation option membership, registered
// tool names.
func validateSemantic(def *schema.SkillDefinition, lookup ToolLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seenNames := make(map[string]int, len(def.Steps))
	seenBindings := make(map[string]int, len(def.Steps))

	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if prev, exists := seenNames[step.Name]; exists {
			result.AddError(path+".name", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step name %q (first used at steps[%d])", step.Name, prev))
		} else {
			seenNames[step.Name] = i
		}

		binding := step.Binding()
		if prev, exists := seenBindings[binding]; exists {
			result.AddError(path+".output_binding", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate output binding %q (first used at steps[%d])", binding, prev))
		} else {
			seenBindings[binding] = i
		}

		validateStepTarget(step, path, lookup, result)
		validateConfirmation(step, path, result)

		if step.RetryLimit > 10 {
			result.AddWarning(path+".retry_limit", schema.ErrCodeValidation,
				fmt.Sprintf("high retry limit (%d) may cause excessive delays", step.RetryLimit))
		}
		if step.RetryLimit > 1 && step.Policy() != schema.ErrorPolicyRetry && step.Policy() != schema.ErrorPolicyAutoHeal {
			result.AddWarning(path+".retry_limit", schema.ErrCodeValidation,
				fmt.Sprintf("retry_limit has no effect with on_error=%s", step.Policy()))
		}
	}

	return result
}

// validateStepTarget enforces exactly one of tool or compute per step.
func validateStepTarget(step *schema.StepDefinition, path string, lookup ToolLookup, result *schema.ValidationResult) {
	hasTool := step.Tool != ""
	hasCompute := step.Compute != nil

	switch {
	case hasTool && hasCompute:
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("step %q declares both tool and compute; exactly one is required", step.Name))
	case !hasTool && !hasCompute:
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("step %q declares neither tool nor compute; exactly one is required", step.Name))
	case hasTool && lookup != nil:
		if !lookup.Has(step.Tool) {
			result.AddError(path+".tool", schema.ErrCodeNotFound,
				fmt.Sprintf("tool %q not registered", step.Tool))
		}
	}

	if hasCompute && len(step.Args) > 0 {
		result.AddWarning(path+".args", schema.ErrCodeValidation,
			fmt.Sprintf("step %q: args are ignored for compute steps", step.Name))
	}
}

// validateConfirmation checks option membership and timeout defaults.
func validateConfirmation(step *schema.StepDefinition, path string, result *schema.ValidationResult) {
	conf := step.Confirmation
	if conf == nil {
		return
	}

	options := make(map[string]bool, len(conf.Options))
	for _, opt := range conf.Options {
		options[opt] = true
	}

	if conf.DefaultOption != "" && !options[conf.DefaultOption] {
		result.AddError(path+".confirmation.default_option", schema.ErrCodeValidation,
			fmt.Sprintf("default_option %q is not one of the declared options", conf.DefaultOption))
	}
	if conf.ProceedOption != "" && !options[conf.ProceedOption] {
		result.AddError(path+".confirmation.proceed_option", schema.ErrCodeValidation,
			fmt.Sprintf("proceed_option %q is not one of the declared options", conf.ProceedOption))
	}
	if conf.TimeoutSeconds > 0 && conf.DefaultOption == "" {
		result.AddError(path+".confirmation.timeout_seconds", schema.ErrCodeValidation,
			"timeout_seconds requires a default_option to resolve to on expiry")
	}
}
