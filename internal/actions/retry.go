package actions

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// RetryPolicy configures WithRetry. Delay and MaxDelay are Go durations.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts"`
	Delay       string `json:"delay,omitempty"`
	Backoff     string `json:"backoff,omitempty"` // none, constant, linear, exponential
	MaxDelay    string `json:"max_delay,omitempty"`
}

// WithRetry wraps a step so failed invocations are retried per policy. The
// core never retries on its own; retries are opted into when registering.
func WithRetry(step Step, policy RetryPolicy) Step {
	if policy.MaxAttempts <= 1 {
		return step
	}
	return &retryingStep{Step: step, policy: policy}
}

type retryingStep struct {
	Step
	policy RetryPolicy
}

func (r *retryingStep) Execute(ctx context.Context, input StepInput) (*StepOutput, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := WaitForBackoff(ctx, ComputeBackoff(r.policy, attempt-1)); err != nil {
				return nil, schema.NewError(schema.ErrCodeCancelled, "retry interrupted").WithCause(err)
			}
		}
		out, err := r.Step.Execute(ctx, input)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			break
		}
	}
	return nil, lastErr
}

// IsRetryableError classifies whether an error should be retried.
// Retryable: network errors, timeouts, step failures not marked otherwise.
// Non-retryable: validation errors, missing actions, cancellation.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Step timeout, not a run-level cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		switch flowErr.Code {
		case schema.ErrCodeValidation, schema.ErrCodeActionUnavailable,
			schema.ErrCodeCancelled, schema.ErrCodeNotFound, schema.ErrCodeVault,
			schema.ErrCodeCircuitOpen:
			return false
		}
		if r, ok := flowErr.Details["retryable"].(bool); ok {
			return r
		}
		if flowErr.Cause != nil && flowErr.Cause != err {
			return IsRetryableError(flowErr.Cause)
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"permission denied", "invalid", "not found"} {
		if strings.Contains(msg, p) {
			return false
		}
	}
	return true
}

// ComputeBackoff calculates the delay before retry number attempt+1.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay == "" {
		return 0
	}
	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = base << attempt
	case "linear":
		delay = base * time.Duration(attempt+1)
	default: // none, constant
		delay = base
	}

	if policy.MaxDelay != "" {
		maxDelay, parseErr := time.ParseDuration(policy.MaxDelay)
		if parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
