package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a reconciliation run.
type RunStatus string

const (
	// RunStatusPending indicates the run is admitted but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every operation converged (applied or no-op).
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run aborted before or during execution.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates the run completed with at least one fatal
	// operation failure while independent branches still executed.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the run was cancelled by the operator.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusPartial || s == RunStatusCancelled
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Fatal returns true if the run status maps to a non-zero process exit.
func (s RunStatus) Fatal() bool {
	return s == RunStatusFailed || s == RunStatusPartial || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// OperationKind represents the kind of converging operation the planner emits.
type OperationKind string

const (
	// OpInstallPlatform bootstraps the platform on a bare host. At most one
	// per plan and always first.
	OpInstallPlatform OperationKind = "install_platform"

	// OpCreateDomain configures a DNS domain on the platform.
	OpCreateDomain OperationKind = "create_domain"

	// OpCreateUser creates a user account.
	OpCreateUser OperationKind = "create_user"

	// OpInstallApp installs a web application at a (domain, path) placement.
	OpInstallApp OperationKind = "install_app"
)

// kindRank orders operation kinds for planning: platform, domains, users, apps.
func (o OperationKind) kindRank() int {
	switch o {
	case OpInstallPlatform:
		return 0
	case OpCreateDomain:
		return 1
	case OpCreateUser:
		return 2
	case OpInstallApp:
		return 3
	default:
		return 4
	}
}

// Validate checks if the operation kind is valid.
func (o OperationKind) Validate() error {
	switch o {
	case OpInstallPlatform, OpCreateDomain, OpCreateUser, OpInstallApp:
		return nil
	default:
		return fmt.Errorf("invalid operation kind: %s", o)
	}
}

// OperationStatus represents the status of an operation through its lifecycle:
//
//	planned -> executing -> succeeded
//	                     -> skipped
//	                     -> failed_retryable -> executing (bounded retries)
//	                     -> failed_fatal
type OperationStatus string

const (
	// StatusPlanned indicates the operation is planned but not yet started.
	StatusPlanned OperationStatus = "planned"

	// StatusExecuting indicates the operation is currently executing.
	StatusExecuting OperationStatus = "executing"

	// StatusSucceeded indicates the operation applied successfully.
	StatusSucceeded OperationStatus = "succeeded"

	// StatusSkipped indicates the operation was not applied; SkipReason says why.
	StatusSkipped OperationStatus = "skipped"

	// StatusFailedRetryable indicates a transient failure awaiting retry.
	StatusFailedRetryable OperationStatus = "failed_retryable"

	// StatusFailedFatal indicates a non-recoverable failure. The dependency
	// branch rooted at this operation is halted.
	StatusFailedFatal OperationStatus = "failed_fatal"
)

// IsTerminal returns true if the status is final for the run.
// failed_retryable is not terminal: the operation re-enters executing.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusSkipped || s == StatusFailedFatal
}

// IsFailure returns true for either failure state.
func (s OperationStatus) IsFailure() bool {
	return s == StatusFailedRetryable || s == StatusFailedFatal
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case StatusPlanned, StatusExecuting, StatusSucceeded,
		StatusSkipped, StatusFailedRetryable, StatusFailedFatal:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// SkipReason explains why an operation ended Skipped.
type SkipReason string

const (
	// SkipReasonNoop indicates the entity already exists with matching
	// attributes; nothing to do.
	SkipReasonNoop SkipReason = "noop"

	// SkipReasonBlocked indicates an operation this one depends on failed
	// fatally or was itself blocked.
	SkipReasonBlocked SkipReason = "blocked"

	// SkipReasonTimeout indicates the run-level deadline expired before the
	// operation could start.
	SkipReasonTimeout SkipReason = "timeout"

	// SkipReasonCancelled indicates the run was cancelled before the
	// operation could start.
	SkipReasonCancelled SkipReason = "cancelled"
)

// Display renders the reason the way run output shows it, e.g. "Skipped(blocked)".
func (r SkipReason) Display() string {
	switch r {
	case SkipReasonNoop:
		return "Skipped(no-op)"
	case SkipReasonBlocked:
		return "Skipped(blocked)"
	case SkipReasonTimeout:
		return "Skipped(timeout)"
	case SkipReasonCancelled:
		return "Skipped(cancelled)"
	default:
		return "Skipped"
	}
}

// Validate checks if the skip reason is valid.
func (r SkipReason) Validate() error {
	switch r {
	case SkipReasonNoop, SkipReasonBlocked, SkipReasonTimeout, SkipReasonCancelled:
		return nil
	default:
		return fmt.Errorf("invalid skip reason: %s", r)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a run has failed.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeProbeCompleted indicates the host probe finished.
	EventTypeProbeCompleted EventType = "probe_completed"

	// EventTypePlanComputed indicates the plan was computed.
	EventTypePlanComputed EventType = "plan_computed"

	// EventTypeOperationStarted indicates an operation started executing.
	EventTypeOperationStarted EventType = "operation_started"

	// EventTypeOperationSucceeded indicates an operation applied successfully.
	EventTypeOperationSucceeded EventType = "operation_succeeded"

	// EventTypeOperationRetried indicates a transient failure triggered a retry.
	EventTypeOperationRetried EventType = "operation_retried"

	// EventTypeOperationFailed indicates an operation failed fatally.
	EventTypeOperationFailed EventType = "operation_failed"

	// EventTypeOperationSkipped indicates an operation was skipped.
	EventTypeOperationSkipped EventType = "operation_skipped"

	// EventTypePolicyViolation indicates a policy denied the plan.
	EventTypePolicyViolation EventType = "policy_violation"

	// EventTypeError indicates an error occurred.
	EventTypeError EventType = "error"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"

	// EventTypeInfo indicates an informational event.
	EventTypeInfo EventType = "info"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeOperationFailed, EventTypeError:
		return "error"
	case EventTypeWarning, EventTypePolicyViolation, EventTypeOperationRetried:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s OperationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *OperationStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = OperationStatus(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
