package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// The only transient failures in practice are network timeouts while the host
	// contacts an app repository or the transport times out mid-command.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable operation failure.
	// Examples: non-zero exit from the platform CLI, permission denied.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassConflict indicates an entity that already exists on the host
	// with attributes that contradict the declared configuration.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassValidation indicates the configuration failed normalization.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassProbe indicates the host could not be probed: unreachable,
	// or its answers could not be parsed.
	ErrorClassProbe ErrorClass = "probe"

	// ErrorClassLockHeld indicates another run already holds the host lock.
	ErrorClassLockHeld ErrorClass = "lockheld"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry and abort logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Entity is the entity the error concerns (e.g. "domain/example.com").
	Entity string `json:"entity,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Entity != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (entity=%s, operation=%s)%s",
			e.Class, e.Message, e.Entity, e.Operation, e.unwrapSuffix())
	}
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s (entity=%s)%s", e.Class, e.Message, e.Entity, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Code:    ErrCodeConflict,
		Err:     err,
	}
}

// NewProbeError creates a new probe error.
func NewProbeError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassProbe,
		Message: message,
		Err:     err,
	}
}

// NewLockHeldError creates a new lock contention error.
func NewLockHeldError(host, holder string) *EngineError {
	return &EngineError{
		Class:   ErrorClassLockHeld,
		Message: fmt.Sprintf("host %s is locked by run %s", host, holder),
		Code:    ErrCodeLockContention,
	}
}

// WithEntity adds entity context to an error.
func (e *EngineError) WithEntity(entity string) *EngineError {
	e.Entity = entity
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsProbe returns true if the error is classified as a probe failure.
func IsProbe(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassProbe
	}
	return false
}

// IsLockHeld returns true if the error is a lock contention error.
func IsLockHeld(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassLockHeld
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only transient errors are retryable; conflicts and permanent failures
// abort the affected dependency branch.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// ValidationIssue describes a single rule violation found during normalization.
type ValidationIssue struct {
	// Entity identifies the offending entity (e.g. "app/ttrss", "user/jane").
	Entity string `json:"entity"`

	// Field is the offending field within the entity, if applicable.
	Field string `json:"field,omitempty"`

	// Message explains the violation.
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s: %s: %s", i.Entity, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Entity, i.Message)
}

// ValidationError aggregates every rule violation found in one configuration.
// Normalization is atomic: a ValidationError means no DesiredState was
// produced and nothing will be planned or executed.
type ValidationError struct {
	Issues []ValidationIssue `json:"issues"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("configuration invalid (%d violation(s)): %s",
		len(e.Issues), strings.Join(msgs, "; "))
}

// IsValidation returns true if the error is a normalization failure.
func IsValidation(err error) bool {
	var v *ValidationError
	if errors.As(err, &v) {
		return true
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeHostUnreachable   = "HOST_UNREACHABLE"
	ErrCodeUnparseableOutput = "UNPARSEABLE_OUTPUT"
	ErrCodeNetworkTimeout    = "NETWORK_TIMEOUT"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeDependencyFailed  = "DEPENDENCY_FAILED"
	ErrCodeLockContention    = "LOCK_CONTENTION"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
