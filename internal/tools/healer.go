package tools

import "context"

// AutoHealer attempts to repair the cause of a failed tool invocation so
// the step can be retried. Implementations range from no-op to agents that
// inspect the error and patch the environment.
type AutoHealer interface {
	AttemptFix(ctx context.Context, tool string, errorText string) (*FixReport, error)
}

// FixReport is the outcome of one heal attempt.
type FixReport struct {
	Fixed  bool   `json:"fixed"`
	Detail string `json:"detail,omitempty"`
}

// NoopHealer never fixes anything. It is the default healer when no
// external healing integration is configured.
type NoopHealer struct{}

func (NoopHealer) AttemptFix(ctx context.Context, tool string, errorText string) (*FixReport, error) {
	return &FixReport{Fixed: false, Detail: "no healer configured"}, nil
}

var _ AutoHealer = NoopHealer{}
