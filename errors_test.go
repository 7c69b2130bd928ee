package campuslink

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeMatching(t *testing.T) {
	err := wrapError(ErrorConnection, "dial", errors.New("refused"))

	if !errors.Is(err, newError(ErrorConnection, "anything")) {
		t.Fatal("errors with the same code must match")
	}
	if errors.Is(err, ErrNoToken) {
		t.Fatal("errors with different codes must not match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("refused")
	err := wrapError(ErrorConnection, "dial", cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
	wrapped := fmt.Errorf("connect: %w", err)
	var e *Error
	if !errors.As(wrapped, &e) || e.Code != ErrorConnection {
		t.Fatalf("errors.As failed through wrapping: %v", wrapped)
	}
}

func TestErrorString(t *testing.T) {
	err := newError(ErrorNotConnected, "not connected")
	if got := err.Error(); got != "not_connected: not connected" {
		t.Fatalf("unexpected error string: %q", got)
	}
}
