package errors

import (
	"fmt"
)

// SegmentError is the structured error type returned across segmentcore.
type SegmentError struct {
	// Code is the stable error code (e.g. "ERR_ARG_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind classifies the error for programmatic handling.
	Kind Kind

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the caller may retry without changing inputs.
	Retryable bool
}

// Error implements the error interface.
func (e *SegmentError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SegmentError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code, enabling
// errors.Is to work with SegmentError.
func (e *SegmentError) Is(target error) bool {
	if t, ok := target.(*SegmentError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error and returns it for
// chaining.
func (e *SegmentError) WithDetail(key, value string) *SegmentError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a SegmentError with the given code and message. Kind and
// retryability are derived from the code.
func New(code string, message string, cause error) *SegmentError {
	return &SegmentError{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Cause:     cause,
		Retryable: retryableCode(code),
	}
}

// Wrap creates a SegmentError from an existing error. Returns nil if err
// is nil so call sites can do `return errors.Wrap(code, err)` unconditionally.
func Wrap(code string, err error) *SegmentError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Arguments creates an ArgumentsError (spec §7): inputs violate a
// declared constraint. Never retried.
func Arguments(code, message string) *SegmentError {
	return New(code, message, nil)
}

// Service creates a ServiceError (spec §7): backing storage I/O failure
// or corruption, fatal for the current operation.
func Service(code, message string, cause error) *SegmentError {
	return New(code, message, cause)
}

// Cancelled creates a Cancelled error (spec §7): a cooperative stop flag
// was observed.
func Cancelled() *SegmentError {
	return New(CodeOperationCancelled, "operation cancelled", nil)
}

// NotIndexed creates a NotIndexed error (spec §7) for a field lacking an
// index. Callers (the planner) turn this into an unknown cardinality
// rather than propagating it as a hard failure.
func NotIndexed(field string) *SegmentError {
	return New(CodeFieldNotIndexed, fmt.Sprintf("field %q is not indexed", field), nil)
}

// IsKind reports whether err is a SegmentError of the given kind.
func IsKind(err error, kind Kind) bool {
	if se, ok := err.(*SegmentError); ok {
		return se.Kind == kind
	}
	return false
}

// IsCancelled reports whether err represents a cooperative cancellation.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled)
}

// IsRetryable reports whether err is a SegmentError with Retryable set.
func IsRetryable(err error) bool {
	if se, ok := err.(*SegmentError); ok {
		return se.Retryable
	}
	return false
}

// Code extracts the error code from a SegmentError, or "" if not one.
func Code(err error) string {
	if se, ok := err.(*SegmentError); ok {
		return se.Code
	}
	return ""
}
