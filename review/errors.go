package review

import (
	"errors"
	"fmt"
)

// Error taxonomy for the review pipeline. The worker maps each class to
// a queue outcome: config and auth errors redeliver until operators fix
// the environment, validation errors terminate with a neutral check run,
// transient errors redeliver with backoff, and skips acknowledge without
// side effects.

// ConfigError marks missing or malformed configuration, including
// unreadable secrets. Never resolved by retrying the message alone.
type ConfigError struct {
	err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.err)
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// NewConfigError wraps an error as a configuration failure.
func NewConfigError(err error) error {
	return &ConfigError{err: err}
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// AuthError marks rejected credentials on an outbound call, such as an
// expired forge token or a bad signing key.
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication error: %v", e.err)
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// NewAuthError wraps an error as an authentication failure.
func NewAuthError(err error) error {
	return &AuthError{err: err}
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ValidationError marks model output that failed schema validation
// after format correction was exhausted. The message is never retried;
// the worker reports the failure as a neutral check run.
type ValidationError struct {
	// Stage is "planner" or "reviewer".
	Stage string
	err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s output validation failed: %v", e.Stage, e.err)
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// NewValidationError wraps a schema failure with the stage that
// produced it.
func NewValidationError(stage string, err error) error {
	return &ValidationError{Stage: stage, err: err}
}

// AsValidationError returns the typed validation error when err is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// TransientError marks a failure worth redelivering: rate limits,
// upstream 5xx responses, timeouts, broker hiccups.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.err)
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// IsTransient reports whether err should cause redelivery.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// BusinessSkip marks a message that needs no review: the PR is closed,
// the policy excludes it, or another worker already claimed the key.
// Skips acknowledge the message and record the reason as a metric.
type BusinessSkip struct {
	// Reason is a stable label, suitable for a metric dimension.
	Reason string
}

func (e *BusinessSkip) Error() string {
	return fmt.Sprintf("review skipped: %s", e.Reason)
}

// NewBusinessSkip creates a skip with a stable reason label.
func NewBusinessSkip(reason string) error {
	return &BusinessSkip{Reason: reason}
}

// SkipReason extracts the skip reason when err is a BusinessSkip.
func SkipReason(err error) (string, bool) {
	var bs *BusinessSkip
	if errors.As(err, &bs) {
		return bs.Reason, true
	}
	return "", false
}
