package engine

import (
	"context"

	"github.com/rendis/skillrun/pkg/schema"
)

// runWithPolicy drives the attempt loop of a step according to its failure
// policy. For retry, retry_limit counts total invocation attempts. For
// auto_heal, it bounds how many fix-then-retry cycles may follow the first
// failure; an unfixed report stops at exactly one attempt. Cancellation is
// never absorbed by a policy.
func (e *Engine) runWithPolicy(ctx context.Context, rc *runContext, step *schema.StepDefinition) (any, int, error) {
	policy := step.Policy()

	maxAttempts := 1
	if policy == schema.ErrorPolicyRetry {
		maxAttempts = step.Attempts()
	}
	healBudget := 0
	if policy == schema.ErrorPolicyAutoHeal {
		healBudget = step.Attempts()
	}

	attempt := 0
	heals := 0
	for {
		attempt++
		output, err := e.runAttempt(ctx, rc, step)
		if err == nil {
			return output, attempt, nil
		}

		if ctx.Err() != nil || isCancelled(err) {
			return nil, attempt, schema.NewErrorf(schema.ErrCodeCancelled,
				"step %s cancelled", step.Name).WithStep(step.Name).WithCause(err)
		}

		switch policy {
		case schema.ErrorPolicyRetry:
			if attempt >= maxAttempts {
				if maxAttempts > 1 {
					return nil, attempt, schema.NewErrorf(schema.ErrCodeRetryExhausted,
						"step %s: retries exhausted after %d attempts: %s",
						step.Name, attempt, err.Error()).WithStep(step.Name).WithCause(err)
				}
				return nil, attempt, err
			}
			if rErr := e.enterRetry(ctx, rc, step, attempt); rErr != nil {
				return nil, attempt, rErr
			}

		case schema.ErrorPolicyAutoHeal:
			if heals >= healBudget {
				return nil, attempt, schema.NewErrorf(schema.ErrCodeRetryExhausted,
					"step %s: heal budget exhausted after %d attempts: %s",
					step.Name, attempt, err.Error()).WithStep(step.Name).WithCause(err)
			}
			heals++

			report, healErr := e.healer.AttemptFix(ctx, step.Tool, err.Error())
			fixed := healErr == nil && report != nil && report.Fixed
			detail := ""
			if report != nil {
				detail = report.Detail
			}
			if healErr != nil {
				detail = healErr.Error()
			}
			e.sink.emit(ctx, rc.executionID, rc.def.Name, step.Name, schema.EventHealAttempted, map[string]any{
				"tool":   step.Tool,
				"fixed":  fixed,
				"detail": detail,
			})

			if !fixed {
				return nil, attempt, err
			}
			if rErr := e.enterRetry(ctx, rc, step, attempt); rErr != nil {
				return nil, attempt, rErr
			}

		default: // abort, continue
			return nil, attempt, err
		}
	}
}

// enterRetry walks the step through retrying and back to running, waiting
// out the configured backoff in between.
func (e *Engine) enterRetry(ctx context.Context, rc *runContext, step *schema.StepDefinition, attempt int) error {
	if err := e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, schema.StepStatusRunning, schema.StepStatusRetrying,
		map[string]any{"attempt": attempt}); err != nil {
		return err
	}
	if err := WaitForBackoff(ctx, ComputeBackoff(step, attempt-1)); err != nil {
		return schema.NewErrorf(schema.ErrCodeCancelled,
			"step %s cancelled during backoff", step.Name).WithStep(step.Name).WithCause(err)
	}
	return e.stepFSM.Transition(ctx, rc.executionID, rc.def.Name, step.Name, schema.StepStatusRetrying, schema.StepStatusRunning)
}
