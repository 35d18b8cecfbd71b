package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestGatewayErrorUnwrap(t *testing.T) {
	ge := &GatewayError{
		Op:        "scheduler.Execute",
		Kind:      "routing",
		RequestID: "req-1",
		Message:   "all targets failed",
		Err:       ErrAllTargetsFailed,
	}

	if !errors.Is(ge, ErrAllTargetsFailed) {
		t.Error("errors.Is should match the wrapped sentinel")
	}
	if !strings.Contains(ge.Error(), "req-1") {
		t.Errorf("Error() = %q, want request id included", ge.Error())
	}

	wrapped := fmt.Errorf("outer: %w", ge)
	var target *GatewayError
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should find GatewayError through wrapping")
	}
}

func TestErrorPredicates(t *testing.T) {
	if !IsRoutingError(fmt.Errorf("x: %w", ErrUnknownVirtualModel)) {
		t.Error("unknown virtual model is a routing error")
	}
	if !IsCredentialError(fmt.Errorf("x: %w", ErrAuthExhausted)) {
		t.Error("auth exhausted is a credential error")
	}
	if IsCredentialError(ErrBadRequest) {
		t.Error("bad request is not a credential error")
	}
	if !IsConfigurationError(fmt.Errorf("x: %w", ErrInvalidConfiguration)) {
		t.Error("invalid configuration should match")
	}
	if !IsStateError(ErrDraining) {
		t.Error("draining is a state error")
	}
}
