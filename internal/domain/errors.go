package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTerminalOrder = errors.New("order already in terminal status")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)

// ExecErrorCode classifies execution failures. The retry coordinator treats
// the code, not the message, as authoritative.
type ExecErrorCode string

const (
	// Non-retryable business errors: the order can never succeed as-is.
	ExecInsufficientFunds ExecErrorCode = "insufficient_funds"
	ExecInvalidMarket     ExecErrorCode = "invalid_market"
	ExecBelowMinimumSize  ExecErrorCode = "below_minimum_size"
	ExecRejected          ExecErrorCode = "rejected"

	// Retryable transient errors: bounded retry with backoff.
	ExecRateLimited      ExecErrorCode = "rate_limited"
	ExecTimeout          ExecErrorCode = "timeout"
	ExecVenueUnavailable ExecErrorCode = "venue_unavailable"
)

// ExecError is a typed order-execution failure returned by a venue executor.
type ExecError struct {
	Code      ExecErrorCode
	Message   string
	Retryable bool
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewExecError builds an ExecError with retryability derived from the code.
func NewExecError(code ExecErrorCode, message string) *ExecError {
	return &ExecError{
		Code:      code,
		Message:   message,
		Retryable: code == ExecRateLimited || code == ExecTimeout || code == ExecVenueUnavailable,
	}
}

// AsExecError unwraps err into an *ExecError if possible.
func AsExecError(err error) (*ExecError, bool) {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried by the coordinator.
// Errors that are not typed ExecErrors (transport failures, timeouts from the
// HTTP layer) are treated as retryable connectivity errors.
func IsRetryable(err error) bool {
	if ee, ok := AsExecError(err); ok {
		return ee.Retryable
	}
	return true
}
