// Package resilience provides the retry and circuit-breaker primitives the
// pipeline wraps around every call to an external dependency.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryOptions configures RetryExecutor.Run.
type RetryOptions struct {
	MaxAttempts int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFraction adds up to this fraction of the computed delay, e.g. 0.25 for +25%.
	JitterFraction float64
	// Retryable overrides the default retryable classification when non-nil.
	Retryable func(error) bool
	// OnRetry is invoked before each retry delay with the failing error and the attempt number (1-based).
	OnRetry func(err error, attempt int)
}

// DefaultRetryOptions returns the pipeline-wide defaults from the retry contract.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.25,
	}
}

// RetryError wraps the last error observed after a retryable operation exhausts its attempts.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return "retry exhausted after " + itoa(e.Attempts) + " attempts: " + e.Err.Error()
}

func (e *RetryError) Unwrap() error { return e.Err }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// RetryExecutor executes operations with bounded exponential-backoff-plus-jitter,
// classifying failures as retryable or permanent.
type RetryExecutor struct {
	opts RetryOptions
}

// NewRetryExecutor constructs a RetryExecutor with the given options, filling
// in any zero-valued fields from DefaultRetryOptions.
func NewRetryExecutor(opts RetryOptions) *RetryExecutor {
	defaults := DefaultRetryOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaults.InitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaults.MaxDelay
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = defaults.Multiplier
	}
	if opts.JitterFraction <= 0 {
		opts.JitterFraction = defaults.JitterFraction
	}
	if opts.Retryable == nil {
		opts.Retryable = IsRetryableError
	}
	return &RetryExecutor{opts: opts}
}

// Run executes fn, retrying on retryable errors per the configured policy.
// Permanent errors are returned immediately without retrying.
func (r *RetryExecutor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.opts.InitialDelay

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.opts.Retryable(err) {
			return err
		}

		if attempt == r.opts.MaxAttempts {
			break
		}

		if r.opts.OnRetry != nil {
			r.opts.OnRetry(err, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(delay, r.opts.JitterFraction)):
		}
		delay = nextDelay(delay, r.opts)
	}

	return &RetryError{Attempts: r.opts.MaxAttempts, Err: lastErr}
}

func nextDelay(current time.Duration, opts RetryOptions) time.Duration {
	next := time.Duration(float64(current) * opts.Multiplier)
	if next > opts.MaxDelay {
		return opts.MaxDelay
	}
	return next
}

func withJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	extra := float64(d) * fraction * rand.Float64()
	return d + time.Duration(extra)
}

// IsRetryableError classifies an error as transient (network/timeout/connection-reset/
// temporarily-unavailable/429/502/503) versus permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	markers := []string{
		"econnreset", "connection reset", "timeout", "timed out",
		"temporarily unavailable", "429", "502", "503",
		"connection refused", "broken pipe", "no such host",
	}
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
