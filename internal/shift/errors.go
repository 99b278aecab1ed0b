package shift

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid shift transition")
	// ErrOperationInProgress is matched when the rejection was caused by
	// another operation still in flight.
	ErrOperationInProgress = errors.New("shift operation in progress")
	// ErrStaleResponse is returned by Refresh when a newer refresh was
	// applied first; state is unchanged.
	ErrStaleResponse = errors.New("stale refresh response discarded")
	// ErrSessionExpired is returned without contacting the backend once the
	// driver's token has passed its expiry.
	ErrSessionExpired = errors.New("driver session expired")
)

// InvalidTransitionError is a usage error: the operation is not valid from
// the coordinator's current state. No network request was issued.
type InvalidTransitionError struct {
	Op     string
	State  State
	Reason string
	busy   bool
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s from %s: %s", e.Op, e.State, e.Reason)
	}
	return fmt.Sprintf("%s not allowed from %s", e.Op, e.State)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || (e.busy && target == ErrOperationInProgress)
}

// ActivationRejectedError carries the server's reason for declining an
// activation. It unwraps to the gateway's *RejectionError.
type ActivationRejectedError struct {
	Reason string
	Err    error
}

func (e *ActivationRejectedError) Error() string {
	return "shift activation rejected: " + e.Reason
}

func (e *ActivationRejectedError) Unwrap() error { return e.Err }
