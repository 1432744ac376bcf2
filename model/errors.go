package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrNotFound      = "NOT_FOUND"
	ErrConflict      = "CONFLICT"
	ErrInternalError = "INTERNAL_ERROR"
)

// Workflow error codes. These are the only codes the engine returns from a
// transition attempt.
const (
	ErrUnknownAction   = "UNKNOWN_ACTION"
	ErrWrongDepartment = "WRONG_DEPARTMENT"
	ErrWrongRole       = "WRONG_ROLE"
	ErrInvalidPayload  = "INVALID_PAYLOAD"
	ErrStaleState      = "STALE_STATE"
	ErrStorage         = "STORAGE_ERROR"
)

// ErrVersionConflict is returned by repositories when a commit's expected
// version no longer matches the stored record. The engine translates it to
// ErrStaleState.
const ErrVersionConflict = "VERSION_CONFLICT"

// ErrorEnvelope is the typed error returned by the workflow core and the
// HTTP surface. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, or "" when err is nil or
// not an ErrorEnvelope.
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

// IsCode reports whether err carries the given envelope code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewUnknownActionError returns an UNKNOWN_ACTION error.
func NewUnknownActionError(action ActionName, stage Stage) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownAction,
		Message: fmt.Sprintf("action %q is not defined for stage %q", action, stage),
	}
}

// NewWrongDepartmentError returns a WRONG_DEPARTMENT error naming the
// department that currently holds the record.
func NewWrongDepartmentError(holder Department) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWrongDepartment,
		Message: fmt.Sprintf("record is currently with %s", holder),
	}
}

// NewWrongRoleError returns a WRONG_ROLE error.
func NewWrongRoleError(role Role, action ActionName) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWrongRole,
		Message: fmt.Sprintf("role %s may not perform %q at this stage", role, action),
	}
}

// NewInvalidPayloadError returns an INVALID_PAYLOAD error with field details.
func NewInvalidPayloadError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidPayload,
		Message: "The action payload is invalid",
		Details: details,
	}
}

// NewStaleStateError returns a STALE_STATE error.
func NewStaleStateError(id string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStaleState,
		Message: fmt.Sprintf("record %q was changed by another action; re-read before retrying", id),
	}
}

// NewVersionConflictError returns a VERSION_CONFLICT error.
func NewVersionConflictError(id string, expected, actual int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrVersionConflict,
		Message: fmt.Sprintf("record %q version conflict (expected %d, got %d)", id, expected, actual),
	}
}

// NewStorageError returns a STORAGE_ERROR wrapping cause.
func NewStorageError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStorage,
		Message: "The record store failed; re-read the record before retrying",
		cause:   cause,
	}
}
