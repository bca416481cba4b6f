// Package errs collects the proxy's error taxonomy so callers can branch on
// kind with errors.Is/errors.As rather than string matching.
package errs

import (
	"errors"
	"fmt"
)

// Framing errors, returned by the framing codec's read path.
var (
	ErrMissingContentLength = errors.New("framing: headers ended without Content-Length")
	ErrInvalidContentLength = errors.New("framing: Content-Length is not a non-negative integer")
	ErrUnexpectedEOF        = errors.New("framing: pipe closed mid-frame")
)

// InvalidMessageError reports a malformed client message (e.g. a didChange
// range that is out of bounds or inverted). Requests answer it with
// -32602 Invalid params; notifications are logged and dropped.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// NewInvalidMessage builds an InvalidMessageError with a formatted reason.
func NewInvalidMessage(format string, args ...any) error {
	return &InvalidMessageError{Reason: fmt.Sprintf(format, args...)}
}

// SpawnError wraps a failure to spawn a backend, or a spawn refused within
// the cooldown after such a failure. The dispatcher logs it; the didOpen
// that asked for the backend is a notification and gets no response.
type SpawnError struct {
	Environment string
	Cause       error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn backend for %q: %v", e.Environment, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// InitializeError wraps a failure during the backend handshake (timeout,
// error response, or read error before the backend reaches Ready).
type InitializeError struct {
	Environment string
	Cause       error
}

func (e *InitializeError) Error() string {
	return fmt.Sprintf("initialize backend for %q: %v", e.Environment, e.Cause)
}

func (e *InitializeError) Unwrap() error { return e.Cause }
