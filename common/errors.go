package common

import (
	"errors"
	"fmt"
)

// Error kinds cross component boundaries only when retry or user surfacing is
// required; everything else is returned as a sanitized result. Each kind maps
// to a distinct retry policy:
//
//   - validation:      never retried, surfaced with the offending field
//   - budget exceeded: never retried, may open the domain breaker
//   - circuit open:    retried only by the queue's normal retry policy
//   - rate limited:    advisory, callers skip the provider
//   - egress denied:   refused outright, task fails
//
// Transient I/O errors are plain wrapped errors retried in-call once.

// ValidationError reports input that failed a schema, allowlist or threshold
// check. Field identifies the offending key when known.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BudgetExceededError reports a cap or envelope that would be violated.
// Scope names the specific limit (e.g. "global_daily", "per_task") so the
// user-facing message can say which envelope tripped.
type BudgetExceededError struct {
	Scope     string
	Key       string
	LimitUSD  float64
	SpentUSD  float64
	AttemptUSD float64
}

func (e *BudgetExceededError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("budget exceeded: %s[%s] spent $%.4f + $%.4f would pass limit $%.4f",
			e.Scope, e.Key, e.SpentUSD, e.AttemptUSD, e.LimitUSD)
	}
	return fmt.Sprintf("budget exceeded: %s spent $%.4f + $%.4f would pass limit $%.4f",
		e.Scope, e.SpentUSD, e.AttemptUSD, e.LimitUSD)
}

// IsBudgetExceeded reports whether err is (or wraps) a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// CircuitOpenError reports an attempt denied by an open circuit breaker.
type CircuitOpenError struct {
	Key string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q", e.Key)
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// RateLimitedError reports a request denied by the per-source rate limiter.
type RateLimitedError struct {
	Source string
	Reason string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Reason)
}

// EgressDeniedError reports a URL outside the network allowlist.
type EgressDeniedError struct {
	URL string
}

func (e *EgressDeniedError) Error() string {
	return fmt.Sprintf("egress denied for %s: host not in allowlist", e.URL)
}

const (
	// MaxTransportMessageLen bounds user-visible error text sent through the
	// chat transport.
	MaxTransportMessageLen = 200

	// MaxLogMessageLen bounds error text recorded in logs and task records.
	MaxLogMessageLen = 1000
)

// Truncate shortens s to at most max runes, appending an ellipsis marker when
// content was cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// SanitizeUserError produces the transport-safe form of an internal error:
// truncated and stripped of anything after the first newline so stack
// fragments never reach chat.
func SanitizeUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for i, r := range msg {
		if r == '\n' {
			msg = msg[:i]
			break
		}
	}
	return Truncate(msg, MaxTransportMessageLen)
}
