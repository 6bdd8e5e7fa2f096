// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Config errors (100-199): Invalid configuration, missing parameters, schema mismatches
//   - Data integrity errors (200-299): Gaps, duplicates, malformed candles, query failures
//   - Connectivity errors (300-399): Stream disconnects, heartbeat loss, exchange unreachable
//   - Strategy errors (400-499): Strategy faults, timeouts, unknown strategies
//   - Risk errors (500-599): Rejections produced by the risk engine
//   - Execution errors (600-699): Order placement and fill reconciliation failures
//   - Ledger errors (700-799): Accounting and persistence failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidConfiguration, "missing symbol")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeDataGap, "gap detected for %s", symbol)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeQueryFailed, "failed to execute query", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeDataGap) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// CategoryOf extracts the ErrorCategory from an error's code.
func CategoryOf(err error) ErrorCategory {
	return GetCode(err).Category()
}

// IsRetryable reports whether the error represents a transient condition
// that a caller may retry under the same idempotency key, such as a dropped
// connection or a timed-out submission. Config, data integrity and risk
// errors are never retryable.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryConnectivity:
		return true
	case CategoryExecution:
		return GetCode(err) != ErrCodeOrderRejected
	default:
		return false
	}
}
