//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is a machine-readable classification for an [EngineError].
//
// The set of codes matches the error kinds a PolicyKit-style authority
// surfaces to callers; transport bindings are responsible for mapping these
// onto their own wire error types.
type ErrorCode string

const (
	// ErrInvalidArgument marks a malformed subject, action id, or cookie.
	ErrInvalidArgument ErrorCode = "InvalidArgument"
	// ErrNotAuthorized marks a caller attempting a sub-operation it may not perform.
	ErrNotAuthorized ErrorCode = "NotAuthorized"
	// ErrPolicyFileInvalid marks a malformed policy file, reported at load time.
	ErrPolicyFileInvalid ErrorCode = "PolicyFileInvalid"
	// ErrCancellationIDNotUnique marks a duplicate in-flight cancellation id for a caller.
	ErrCancellationIDNotUnique ErrorCode = "CancellationIdNotUnique"
	// ErrCancelled marks an operation aborted by its caller.
	ErrCancelled ErrorCode = "Cancelled"
	// ErrTimedOut marks rule evaluation or spawn exceeding its budget.
	ErrTimedOut ErrorCode = "TimedOut"
	// ErrAgentUnavailable marks no agent registered for a subject's scope.
	ErrAgentUnavailable ErrorCode = "AgentUnavailable"
	// ErrAlreadyExists marks an attempt to register a second agent for a scope already taken.
	ErrAlreadyExists ErrorCode = "AlreadyExists"
	// ErrOutOfMemory marks an allocation failure.
	ErrOutOfMemory ErrorCode = "OutOfMemory"
	// ErrInternal marks an invariant violation.
	ErrInternal ErrorCode = "Internal"
)

// EngineError is a structured error carrying one of the fixed [ErrorCode]
// kinds plus a human-readable reason, mirroring the way the reference
// authority reports failures to its callers verbatim as short identifiers.
type EngineError struct {
	Code   ErrorCode
	Reason string
	cause  error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *EngineError) Unwrap() error {
	return e.cause
}

// New creates an [EngineError] with the given code and message.
func New(code ErrorCode, reason string) *EngineError {
	return &EngineError{Code: code, Reason: reason}
}

// Newf creates an [EngineError] with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *EngineError {
	return &EngineError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and reason to an underlying cause, preserving it for
// errors.Is/As and logging, the way pkg/errors.Wrap preserves call-stack
// context across package boundaries.
func Wrap(cause error, code ErrorCode, reason string) *EngineError {
	return &EngineError{Code: code, Reason: reason, cause: errors.WithStack(cause)}
}

// Is reports whether err is an [EngineError] of the given code.
func Is(err error, code ErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
