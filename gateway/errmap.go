package gateway

import (
	"errors"
	"net/http"

	"github.com/routecc/rcc/core"
)

// errorStatus maps a routing error to the northbound HTTP status code.
// Unrecognized errors are treated as internal faults.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownVirtualModel):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTokenLimitExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrOverloaded),
		errors.Is(err, core.ErrNoAvailableTargets),
		errors.Is(err, core.ErrDraining):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrAllTargetsFailed),
		errors.Is(err, core.ErrAuthExhausted),
		errors.Is(err, core.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrRequestCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorType names the error category in response bodies
func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case status == http.StatusServiceUnavailable:
		return "overloaded_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

// errorBody is the JSON error envelope returned to clients. It carries the
// request id for trace correlation and never includes upstream secrets or
// stack traces.
type errorBody struct {
	Type  string       `json:"type"`
	Error errorDetails `json:"error"`
}

type errorDetails struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// clientMessage extracts a safe, human-readable message for the caller
func clientMessage(err error) string {
	var ge *core.GatewayError
	if errors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	// Sentinel text only; wrapped detail may reference internals
	for unwrapped := err; unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		err = unwrapped
	}
	return err.Error()
}
