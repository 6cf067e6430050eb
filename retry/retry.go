// Package retry provides a bounded retry envelope with exponential backoff
// and jitter for outbound dependencies (forge API, LLM runtime, queue,
// secret store).
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// Config holds retry envelope parameters.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// JitterRatio widens each sleep by a uniform factor in [1, 1+JitterRatio].
	JitterRatio float64
}

// DefaultConfig returns the standard envelope: 5 attempts, 250ms base,
// 10s cap, 30% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		JitterRatio: 0.30,
	}
}

// nonRetryableError marks an error as terminal for the envelope.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err (or anything it wraps) was marked
// terminal via NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

// Backoff computes the sleep after attempt n (1-based):
// min(base * 2^(n-1), max) scaled by U(1, 1+jitter).
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= cfg.MaxDelay {
			backoff = cfg.MaxDelay
			break
		}
	}
	if backoff > cfg.MaxDelay {
		backoff = cfg.MaxDelay
	}

	scale := 1.0 + cfg.JitterRatio*rand.Float64()
	return time.Duration(float64(backoff) * scale)
}

// Do runs op up to cfg.MaxAttempts times, sleeping Backoff(n) between
// attempts. It stops early on success, on a NonRetryable error, or when
// ctx is cancelled. The final attempt's error is returned as-is.
func Do(ctx context.Context, cfg Config, op func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt, cfg)):
			}
		}
	}

	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}

// RetryableHTTPStatus reports whether an HTTP status from an outbound
// dependency should be retried: 403 (rate-limit responses share it with
// permission errors on the forge), 429, and any 5xx.
func RetryableHTTPStatus(code int) bool {
	switch {
	case code == http.StatusForbidden:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
