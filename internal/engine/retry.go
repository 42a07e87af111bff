package engine

import (
	"context"
	"time"

	"github.com/rendis/skillrun/pkg/schema"
)

// ComputeBackoff calculates the delay before the next retry attempt of a
// step. Supports none, constant, linear, and exponential backoff with an
// optional max_delay cap. attempt is zero-based: the wait before the
// second invocation passes attempt 0.
func ComputeBackoff(step *schema.StepDefinition, attempt int) time.Duration {
	if step == nil || step.Delay == "" || step.Backoff == "none" {
		return 0
	}

	base, err := time.ParseDuration(step.Delay)
	if err != nil {
		return 0
	}

	var delay time.Duration
	switch step.Backoff {
	case "exponential":
		// 2^attempt * base
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = base * multiplier
	case "linear":
		delay = base * time.Duration(attempt+1)
	default: // "constant" or empty
		delay = base
	}

	if step.MaxDelay != "" {
		maxDelay, parseErr := time.ParseDuration(step.MaxDelay)
		if parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}

	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early
// if the context is cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
