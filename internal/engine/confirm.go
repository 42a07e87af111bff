package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
)

// ConfirmationRequest describes a confirmation gate waiting for a decision.
type ConfirmationRequest struct {
	ExecutionID    string
	SkillName      string
	StepName       string
	Message        string
	Options        []string
	TimeoutSeconds int
	DefaultOption  string
}

// Decision is the resolved outcome of a confirmation wait.
type Decision struct {
	Option string
	Reason schema.DecisionReason
}

type confirmKey struct {
	executionID string
	stepName    string
}

type pendingConfirmation struct {
	options []string
	ch      chan Decision
}

// ConfirmationGateway holds the pending confirmation gates of in-flight
// runs and routes external responses to the waiting step.
type ConfirmationGateway struct {
	mu      sync.Mutex
	pending map[confirmKey]*pendingConfirmation
}

// NewConfirmationGateway creates an empty gateway.
func NewConfirmationGateway() *ConfirmationGateway {
	return &ConfirmationGateway{
		pending: make(map[confirmKey]*pendingConfirmation),
	}
}

// Await registers a pending confirmation and blocks until it is resolved,
// its timeout fires, or the run context is cancelled. A timeout resolves to
// the request's default option; cancellation yields a Decision with reason
// cancelled and no option.
func (g *ConfirmationGateway) Await(ctx context.Context, req ConfirmationRequest) (Decision, error) {
	key := confirmKey{req.ExecutionID, req.StepName}

	g.mu.Lock()
	if _, exists := g.pending[key]; exists {
		g.mu.Unlock()
		return Decision{}, schema.NewErrorf(schema.ErrCodeConflict,
			"confirmation already pending for step %s", req.StepName).WithStep(req.StepName)
	}
	pc := &pendingConfirmation{
		options: req.Options,
		ch:      make(chan Decision, 1),
	}
	g.pending[key] = pc
	g.mu.Unlock()

	var timeout <-chan time.Time
	if req.TimeoutSeconds > 0 {
		timer := time.NewTimer(time.Duration(req.TimeoutSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	// Resolvers remove the entry before sending, so on the channel branch
	// the gate is already gone. On timeout or cancellation we must win the
	// removal ourselves; losing it means a resolver committed a decision
	// concurrently, and that decision takes precedence.
	select {
	case d := <-pc.ch:
		return d, nil
	case <-timeout:
		if !g.claim(key) {
			return <-pc.ch, nil
		}
		return Decision{Option: req.DefaultOption, Reason: schema.DecisionReasonTimeout}, nil
	case <-ctx.Done():
		if !g.claim(key) {
			return <-pc.ch, nil
		}
		return Decision{Reason: schema.DecisionReasonCancelled}, nil
	}
}

// claim removes the gate and reports whether it was still pending.
func (g *ConfirmationGateway) claim(key confirmKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[key]; !ok {
		return false
	}
	delete(g.pending, key)
	return true
}

// Resolve delivers an external response to a pending confirmation. The
// option must be one of the declared options of the waiting gate.
func (g *ConfirmationGateway) Resolve(executionID, stepName, option string) error {
	key := confirmKey{executionID, stepName}

	g.mu.Lock()
	pc, ok := g.pending[key]
	if !ok {
		g.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound,
			"no pending confirmation for execution %s step %s", executionID, stepName).WithStep(stepName)
	}
	valid := false
	for _, o := range pc.options {
		if o == option {
			valid = true
			break
		}
	}
	if !valid {
		g.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeValidation,
			"option %q is not among the declared options", option).WithStep(stepName)
	}
	delete(g.pending, key)
	g.mu.Unlock()

	pc.ch <- Decision{Option: option, Reason: schema.DecisionReasonResponded}
	return nil
}

// CancelPending resolves every pending confirmation of an execution as
// cancelled. Called when the run is aborted.
func (g *ConfirmationGateway) CancelPending(executionID string) {
	g.mu.Lock()
	var cancelled []*pendingConfirmation
	for key, pc := range g.pending {
		if key.executionID == executionID {
			cancelled = append(cancelled, pc)
			delete(g.pending, key)
		}
	}
	g.mu.Unlock()

	for _, pc := range cancelled {
		pc.ch <- Decision{Reason: schema.DecisionReasonCancelled}
	}
}

// Pending returns the step names with a confirmation currently waiting for
// the given execution.
func (g *ConfirmationGateway) Pending(executionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var steps []string
	for key := range g.pending {
		if key.executionID == executionID {
			steps = append(steps, key.stepName)
		}
	}
	return steps
}
