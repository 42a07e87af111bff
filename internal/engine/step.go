package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
)

// executeStep runs a single step through its full pipeline: condition gate,
// confirmation gate, policy-driven invocation, output binding. A non-nil
// error means the run must stop; a failed step under the continue policy
// returns a failed result with a nil error.
func (e *Engine) executeStep(ctx context.Context, rc *runContext, step *schema.StepDefinition) (schema.StepResult, error) {
	res := schema.StepResult{StepName: step.Name, Status: schema.StepStatusPending}
	start := time.Now().UTC()

	// Condition gate. Any evaluation error skips the step rather than
	// failing the run; the reason records that the condition itself broke.
	if step.Condition != "" {
		ok, err := e.engines.CEL().EvaluateCondition(ctx, step.Condition, rc.scope.Data())
		if err != nil {
			return e.skipStep(ctx, rc, step, res, schema.StepStatusPending, schema.SkipReasonConditionError, err.Error(), start)
		}
		if !ok {
			return e.skipStep(ctx, rc, step, res, schema.StepStatusPending, schema.SkipReasonConditionFalse, "", start)
		}
	}

	if err := e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, schema.StepStatusPending, schema.StepStatusRunning); err != nil {
		return res, err
	}
	res.Status = schema.StepStatusRunning

	// Confirmation gate.
	if step.Confirmation != nil {
		decision, err := e.awaitConfirmation(ctx, rc, step)
		if err != nil {
			return res, err
		}
		if decision.Reason == schema.DecisionReasonCancelled {
			res, _ = e.skipStep(ctx, rc, step, res, schema.StepStatusRunning, schema.SkipReasonCancelled, "", start)
			return res, schema.NewErrorf(schema.ErrCodeCancelled, "execution cancelled while awaiting confirmation").WithStep(step.Name)
		}
		if decision.Option != step.Confirmation.Proceed() {
			return e.skipStep(ctx, rc, step, res, schema.StepStatusRunning, schema.SkipReasonConfirmationDenied, "", start)
		}
	}

	output, attempt, runErr := e.runWithPolicy(ctx, rc, step)
	res.Attempt = attempt
	res.DurationMs = time.Since(start).Milliseconds()

	if runErr != nil {
		res.Status = schema.StepStatusFailed
		res.Error = runErr.Error()
		outcome := map[string]any{"duration_ms": res.DurationMs, "attempt": res.Attempt}
		if err := e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, schema.StepStatusRunning, schema.StepStatusFailed, outcome); err != nil {
			_ = e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, schema.StepStatusRetrying, schema.StepStatusFailed, outcome)
		}
		_ = rc.scope.BindStep(step.Binding(), nil, schema.StepStatusFailed)

		if step.Policy() == schema.ErrorPolicyContinue && !isCancelled(runErr) {
			return res, nil
		}
		return res, runErr
	}

	if err := e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, schema.StepStatusRunning, schema.StepStatusSuccess,
		map[string]any{"duration_ms": res.DurationMs, "attempt": res.Attempt}); err != nil {
		return res, err
	}
	res.Status = schema.StepStatusSuccess
	res.Output = output
	if err := rc.scope.BindStep(step.Binding(), output, schema.StepStatusSuccess); err != nil {
		return res, err
	}
	return res, nil
}

// runAttempt performs one invocation of the step target. Arguments are
// resolved fresh on every attempt so templates see the latest scope.
func (e *Engine) runAttempt(ctx context.Context, rc *runContext, step *schema.StepDefinition) (any, error) {
	attemptCtx := ctx
	if step.Timeout != "" {
		if dur, err := time.ParseDuration(step.Timeout); err == nil && dur > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, dur)
			defer cancel()
		}
	}

	if step.Compute != nil {
		out, err := e.engines.Compute(attemptCtx, step.Compute, rc.scope.Data())
		if err != nil {
			return nil, wrapStepError(err, step.Name)
		}
		return out, nil
	}

	args, err := e.resolver.ResolveArgs(step.Args, rc.scope)
	if err != nil {
		return nil, wrapStepError(err, step.Name)
	}

	result, err := e.tools.Invoke(attemptCtx, step.Tool, args)
	if err != nil {
		return nil, wrapStepError(err, step.Name)
	}
	return result.Output, nil
}

// awaitConfirmation resolves the gate message against the scope, publishes
// the request, and blocks on the gateway.
func (e *Engine) awaitConfirmation(ctx context.Context, rc *runContext, step *schema.StepDefinition) (Decision, error) {
	spec := step.Confirmation

	message := spec.Message
	if resolved, err := e.resolver.ResolveValue(message, rc.scope); err == nil {
		if s, ok := resolved.(string); ok {
			message = s
		}
	}

	e.sink.emit(ctx, rc.executionID, rc.def.Name, step.Name, schema.EventConfirmationRequired, map[string]any{
		"message":         message,
		"options":         spec.Options,
		"timeout_seconds": spec.TimeoutSeconds,
	})

	decision, err := e.gateway.Await(ctx, ConfirmationRequest{
		ExecutionID:    rc.executionID,
		SkillName:      rc.def.Name,
		StepName:       step.Name,
		Message:        message,
		Options:        spec.Options,
		TimeoutSeconds: spec.TimeoutSeconds,
		DefaultOption:  spec.DefaultOption,
	})
	if err != nil {
		return decision, err
	}

	e.sink.emit(ctx, rc.executionID, rc.def.Name, step.Name, schema.EventConfirmationResolved, map[string]any{
		"option": decision.Option,
		"reason": string(decision.Reason),
	})
	return decision, nil
}

// skipStep finalizes a step as skipped from either the pending or running
// state and binds the skip into the scope so later conditions can see it.
func (e *Engine) skipStep(ctx context.Context, rc *runContext, step *schema.StepDefinition, res schema.StepResult, from schema.StepStatus, reason schema.SkipReason, detail string, start time.Time) (schema.StepResult, error) {
	duration := time.Since(start).Milliseconds()
	if err := e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, from, schema.StepStatusSkipped,
		map[string]any{"duration_ms": duration, "skip_reason": string(reason)}); err != nil {
		return res, err
	}
	res.Status = schema.StepStatusSkipped
	res.SkipReason = reason
	res.Error = detail
	res.DurationMs = duration
	_ = rc.scope.BindStep(step.Binding(), nil, schema.StepStatusSkipped)
	return res, nil
}

func wrapStepError(err error, stepName string) error {
	var skErr *schema.SkillError
	if errors.As(err, &skErr) {
		if skErr.Step == "" {
			return skErr.WithStep(stepName)
		}
		return skErr
	}
	return schema.NewErrorf(schema.ErrCodeTool, "step %s: %s", stepName, err.Error()).
		WithStep(stepName).WithCause(err)
}

func isCancelled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var skErr *schema.SkillError
	return errors.As(err, &skErr) && skErr.Code == schema.ErrCodeCancelled
}
