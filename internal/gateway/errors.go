package gateway

import (
	"errors"
	"fmt"
)

// TransportError means the backend could not be reached or failed to
// answer. Callers may retry; nothing here retries automatically.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport error (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Reason is the human-readable text shown to the driver.
func (e *TransportError) Reason() string {
	if e.Err == nil {
		return "service unavailable"
	}
	return e.Err.Error()
}

// RejectionError means the backend understood the request and declined it
// on a business rule (no truck free, window closed, shift held elsewhere).
type RejectionError struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Reason)
}

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err is or wraps a *RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
