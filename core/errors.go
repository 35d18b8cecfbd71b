package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Routing errors
	ErrUnknownVirtualModel = errors.New("unknown virtual model")
	ErrNoAvailableTargets  = errors.New("no available targets")
	ErrAllTargetsFailed    = errors.New("all targets failed")
	ErrOverloaded          = errors.New("scheduler overloaded")

	// Credential errors
	ErrNoCredentials = errors.New("no eligible credentials")
	ErrAuthExhausted = errors.New("all credentials exhausted")

	// Request errors
	ErrBadRequest         = errors.New("bad request")
	ErrTokenLimitExceeded = errors.New("token limit exceeded")
	ErrUpstreamTimeout    = errors.New("upstream timeout")
	ErrRequestCancelled   = errors.New("request cancelled")

	// Provider errors
	ErrUnsupported       = errors.New("operation unsupported by provider")
	ErrMalformedResponse = errors.New("malformed provider response")

	// Resilience errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotInitialized = errors.New("not initialized")
	ErrDraining       = errors.New("pool draining")

	// Streaming
	ErrStreamPartiallyCompleted = errors.New("stream partially completed")
)

// GatewayError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type GatewayError struct {
	Op        string // Operation that failed (e.g., "scheduler.Execute")
	Kind      string // Error kind (e.g., "routing", "credential", "provider")
	RequestID string // Optional request id for trace correlation
	Message   string // Human-readable message
	Err       error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *GatewayError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.RequestID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.RequestID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError
func NewGatewayError(op, kind string, err error) *GatewayError {
	return &GatewayError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error represents a transient upstream condition
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrMaxRetriesExceeded) ||
		errors.Is(err, ErrAllTargetsFailed)
}

// IsRoutingError checks if an error originated in target selection
func IsRoutingError(err error) bool {
	return errors.Is(err, ErrUnknownVirtualModel) ||
		errors.Is(err, ErrNoAvailableTargets) ||
		errors.Is(err, ErrAllTargetsFailed)
}

// IsCredentialError checks if an error is credential-related
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrNoCredentials) ||
		errors.Is(err, ErrAuthExhausted)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsStateError checks if an error is related to invalid state transitions
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrDraining)
}
