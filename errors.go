package campuslink

import "fmt"

// ErrorCode categorizes SDK errors.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorNoToken
	ErrorNotConnected
	ErrorAlreadyConnected
	ErrorConnection
	ErrorTransportClosed
	ErrorSerialization
	ErrorAPI
)

// String returns the string representation of an ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case ErrorNoToken:
		return "no_token"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorAlreadyConnected:
		return "already_connected"
	case ErrorConnection:
		return "connection_error"
	case ErrorTransportClosed:
		return "transport_closed"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorAPI:
		return "api_error"
	default:
		return "unknown"
	}
}

// Error is a structured SDK error with a code and optional wrapped cause.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches errors by code so sentinel comparisons with errors.Is work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// Sentinel errors for errors.Is comparisons.
var (
	// ErrNoToken is returned by Connect when no identity token is
	// available. The caller must authenticate and connect again.
	ErrNoToken = newError(ErrorNoToken, "no identity token available")

	// ErrNotConnected is returned by operations that require an open
	// connection.
	ErrNotConnected = newError(ErrorNotConnected, "not connected")

	// ErrTransportClosed is returned by Transport.Send after Close.
	ErrTransportClosed = newError(ErrorTransportClosed, "transport closed")
)
