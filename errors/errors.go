// Package errors provides the structured error type and classification
// taxonomy shared by all linesync components.
package errors

import (
	"errors"
	"fmt"
)

// Kind places an error into the linesync taxonomy.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindSession    Kind = "session"
	KindCache      Kind = "cache"
	KindSync       Kind = "sync"
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindServer     Kind = "server"
	KindTimeout    Kind = "timeout"
	KindClient     Kind = "client"
	KindUnknown    Kind = "unknown"
)

// Severity indicates how serious an error is for the end user.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Operation represents the type of engine operation during which an error occurred.
type Operation string

const (
	OpFlush           Operation = "flush"
	OpBulkCreate      Operation = "bulk_create"
	OpBulkUpdate      Operation = "bulk_update"
	OpBulkDelete      Operation = "bulk_delete"
	OpBulkMixed       Operation = "bulk_mixed"
	OpPreflight       Operation = "preflight"
	OpConflictResolve Operation = "conflict_resolve"
	OpIntegrityCheck  Operation = "integrity_check"
	OpTotals          Operation = "totals"
	OpConfig          Operation = "config"
	OpClose           Operation = "close"
)

// SyncError represents an error that occurred during synchronization.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "executor", "remote")
	Component string

	// Kind classifies the error within the taxonomy
	Kind Kind

	// Severity of the error for user-facing reporting
	Severity Severity

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// UserMessage is a human-readable description suitable for display
	UserMessage string

	// Suggestions are actions the user can take to recover
	Suggestions []string

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a metadata key/value pair and returns the error for chaining.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// New creates a new SyncError of unknown kind.
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:       op,
		Kind:     KindUnknown,
		Severity: SeverityMedium,
		Err:      err,
	}
}

// NewWithComponent creates a new SyncError with component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Kind:      KindUnknown,
		Severity:  SeverityMedium,
		Err:       err,
	}
}

// NewNetworkError creates a retryable network-related SyncError.
func NewNetworkError(op Operation, cause error) *SyncError {
	return newKindError(op, "remote", KindNetwork, cause)
}

// NewTimeoutError creates a retryable timeout SyncError.
func NewTimeoutError(op Operation, cause error) *SyncError {
	return newKindError(op, "remote", KindTimeout, cause)
}

// NewServerError creates a retryable server-side SyncError.
func NewServerError(op Operation, cause error) *SyncError {
	return newKindError(op, "remote", KindServer, cause)
}

// NewValidationError creates a non-retryable validation SyncError.
func NewValidationError(op Operation, cause error) *SyncError {
	return newKindError(op, "", KindValidation, cause)
}

// NewPermissionError creates a non-retryable permission SyncError.
func NewPermissionError(op Operation, cause error) *SyncError {
	return newKindError(op, "", KindPermission, cause)
}

// NewConflictError creates a non-retryable sync-conflict SyncError.
func NewConflictError(op Operation, cause error) *SyncError {
	return newKindError(op, "conflict", KindSync, cause)
}

// NewRetryable creates a retryable SyncError of unknown kind.
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Kind:      KindUnknown,
		Severity:  SeverityMedium,
		Err:       err,
		Retryable: true,
	}
}

func newKindError(op Operation, component string, kind Kind, cause error) *SyncError {
	return &SyncError{
		Op:          op,
		Component:   component,
		Kind:        kind,
		Severity:    kindSeverity[kind],
		Err:         cause,
		Retryable:   kindRetryable[kind],
		UserMessage: userMessages[kind],
		Suggestions: suggestions[kind],
	}
}

// IsRetryable checks if an error is a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// KindOf returns the taxonomy kind of an error, or KindUnknown when the
// error is not a SyncError.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindUnknown
}

// SeverityOf returns the severity of an error, defaulting to medium for
// errors outside the taxonomy.
func SeverityOf(err error) Severity {
	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr.Severity != "" {
		return syncErr.Severity
	}
	return SeverityMedium
}
