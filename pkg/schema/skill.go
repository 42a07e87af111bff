package schema

// SkillDefinition is the declarative workflow format interpreted by the engine.
// Definitions are authored as YAML or JSON and loaded once per execution.
type SkillDefinition struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Inputs      map[string]InputSpec `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Config      map[string]any       `json:"config,omitempty" yaml:"config,omitempty"`
	Steps       []StepDefinition     `json:"steps" yaml:"steps"`
}

// InputSpec declares one named input of a skill.
type InputSpec struct {
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"` // string, number, boolean, object, array
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// StepDefinition describes a single step in a skill.
// Exactly one of Tool or Compute must be set.
type StepDefinition struct {
	Name          string            `json:"name" yaml:"name"`
	Tool          string            `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args          map[string]any    `json:"args,omitempty" yaml:"args,omitempty"` // template map, resolved per attempt
	Compute       *ComputeSpec      `json:"compute,omitempty" yaml:"compute,omitempty"`
	Condition     string            `json:"condition,omitempty" yaml:"condition,omitempty"` // CEL expression, evaluated before execution
	Confirmation  *ConfirmationSpec `json:"confirmation,omitempty" yaml:"confirmation,omitempty"`
	OnError       ErrorPolicy       `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	RetryLimit    int               `json:"retry_limit,omitempty" yaml:"retry_limit,omitempty"`
	Backoff       string            `json:"backoff,omitempty" yaml:"backoff,omitempty"` // none | constant | linear | exponential
	Delay         string            `json:"delay,omitempty" yaml:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay      string            `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Timeout       string            `json:"timeout,omitempty" yaml:"timeout,omitempty"` // step-level timeout (e.g. "30s")
	OutputBinding string            `json:"output_binding,omitempty" yaml:"output_binding,omitempty"`
}

// Binding returns the name under which the step's result is stored in the
// execution context. Defaults to the step name.
func (s *StepDefinition) Binding() string {
	if s.OutputBinding != "" {
		return s.OutputBinding
	}
	return s.Name
}

// ComputeSpec is a locally-evaluated step target: an expression run against
// the execution namespace instead of an external tool.
type ComputeSpec struct {
	Engine     string `json:"engine,omitempty" yaml:"engine,omitempty"` // expr (default), cel, jq
	Expression string `json:"expression" yaml:"expression"`
}

// Compute engine identifiers.
const (
	ComputeEngineExpr = "expr"
	ComputeEngineCEL  = "cel"
	ComputeEngineJQ   = "jq"
)

// ConfirmationSpec declares a human confirmation gate on a step.
// The step proceeds only when the resolved decision equals ProceedOption
// (default: the first entry of Options). Any other selection skips the step.
type ConfirmationSpec struct {
	Message        string   `json:"message" yaml:"message"` // template, resolved before publishing
	Options        []string `json:"options" yaml:"options"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	DefaultOption  string   `json:"default_option,omitempty" yaml:"default_option,omitempty"`
	ProceedOption  string   `json:"proceed_option,omitempty" yaml:"proceed_option,omitempty"`
}

// Proceed returns the option that allows the step to run.
func (c *ConfirmationSpec) Proceed() string {
	if c.ProceedOption != "" {
		return c.ProceedOption
	}
	if len(c.Options) > 0 {
		return c.Options[0]
	}
	return ""
}

// ErrorPolicy enumerates step failure handling strategies.
type ErrorPolicy string

const (
	ErrorPolicyAbort    ErrorPolicy = "abort"
	ErrorPolicyContinue ErrorPolicy = "continue"
	ErrorPolicyRetry    ErrorPolicy = "retry"
	ErrorPolicyAutoHeal ErrorPolicy = "auto_heal"
)

// Policy returns the effective policy, defaulting to abort.
func (s *StepDefinition) Policy() ErrorPolicy {
	if s.OnError == "" {
		return ErrorPolicyAbort
	}
	return s.OnError
}

// Attempts returns the effective retry limit, defaulting to 1.
func (s *StepDefinition) Attempts() int {
	if s.RetryLimit <= 0 {
		return 1
	}
	return s.RetryLimit
}
