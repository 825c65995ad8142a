// Package errors provides the error taxonomy shared by the compliance workflow
// services and its conversion to workflow-engine (BPMN) errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Error Kinds
// ==========================

// Kind is the caller-facing class of an error. Transport layers must keep
// these values verbatim.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindValidation   Kind = "VALIDATION"
	KindDependency   Kind = "DEPENDENCY"
)

// Sentinels usable with errors.Is; any *StandardError of the same kind matches.
var (
	ErrUnauthorized = &StandardError{Kind: KindUnauthorized}
	ErrForbidden    = &StandardError{Kind: KindForbidden}
	ErrNotFound     = &StandardError{Kind: KindNotFound}
	ErrConflict     = &StandardError{Kind: KindConflict}
	ErrValidation   = &StandardError{Kind: KindValidation}
	ErrDependency   = &StandardError{Kind: KindDependency}
)

// ErrorCode narrows a kind to the guard that failed.
type ErrorCode string

const (
	ErrCodeNoSession     ErrorCode = "NO_SESSION"
	ErrCodeRoleDenied    ErrorCode = "ROLE_DENIED"
	ErrCodeNotOwner      ErrorCode = "NOT_OWNER"
	ErrCodeNotAssigned   ErrorCode = "AGENCY_NOT_ASSIGNED"
	ErrCodeNotFound      ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeStoreFailed   ErrorCode = "STORE_FAILED"
	ErrCodeStaleState    ErrorCode = "STALE_STATE"
	ErrCodeFormLocked    ErrorCode = "FORM_LOCKED"
	ErrCodeFormNotLocked ErrorCode = "FORM_NOT_LOCKED"
	ErrCodeDuplicateForm ErrorCode = "DUPLICATE_FORM"

	ErrCodeDuplicatePendingRequest ErrorCode = "DUPLICATE_PENDING_REQUEST"
	ErrCodeRequestAlreadyReviewed  ErrorCode = "REQUEST_ALREADY_REVIEWED"

	ErrCodeAuditCompleted         ErrorCode = "AUDIT_COMPLETED"
	ErrCodeDuplicateObservation   ErrorCode = "DUPLICATE_OBSERVATION_NUMBER"
	ErrCodeObservationNotPending  ErrorCode = "OBSERVATION_NOT_PENDING_REVIEW"
	ErrCodeObservationNotOpen     ErrorCode = "OBSERVATION_NOT_OPEN"
	ErrCodeDeadlinePassed         ErrorCode = "RESPONSE_DEADLINE_PASSED"
	ErrCodeObservationNotResolved ErrorCode = "OBSERVATION_NOT_PENALIZABLE"
	ErrCodePenaltyExists          ErrorCode = "PENALTY_EXISTS"
	ErrCodePenaltyTransition      ErrorCode = "INVALID_PENALTY_TRANSITION"
	ErrCodeNoticeOpen             ErrorCode = "NOTICE_HAS_OPEN_OBSERVATIONS"
	ErrCodeNoticeClosed           ErrorCode = "NOTICE_ALREADY_CLOSED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Kind      Kind                   `json:"kind"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s[%s]: %s (%s)", e.Kind, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

// Is matches on kind so callers can write errors.Is(err, ErrConflict).
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns e.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// KindOf returns the kind of err. Errors that did not originate here are
// treated as dependency failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Kind
	}
	return KindDependency
}

// CodeOf returns the code of err, or "" when err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// ==========================
// 2. Error Constructors
// ==========================

func newError(kind Kind, code ErrorCode, message, details string) *StandardError {
	return &StandardError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: kind == KindDependency,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedError reports a missing session.
func NewUnauthorizedError() *StandardError {
	return newError(KindUnauthorized, ErrCodeNoSession, "No active session", "")
}

// NewForbiddenError reports a role or ownership mismatch.
func NewForbiddenError(code ErrorCode, details string) *StandardError {
	return newError(KindForbidden, code, "Operation not permitted", details)
}

// NewNotFoundError reports a missing entity, or one the caller does not own.
func NewNotFoundError(entity, id string) *StandardError {
	return newError(KindNotFound, ErrCodeNotFound,
		fmt.Sprintf("%s not found", entity),
		fmt.Sprintf("id: %s", id))
}

// NewConflictError reports a violated state guard.
func NewConflictError(code ErrorCode, message, details string) *StandardError {
	return newError(KindConflict, code, message, details)
}

// NewValidationError reports a missing or malformed input field.
func NewValidationError(field, message string) *StandardError {
	return newError(KindValidation, ErrCodeInvalidInput, message, fmt.Sprintf("field: %s", field)).
		WithMetadata("field", field)
}

// NewDependencyError wraps a store or external service failure.
func NewDependencyError(operation string, err error) *StandardError {
	e := newError(KindDependency, ErrCodeStoreFailed,
		fmt.Sprintf("Dependency failure during %s", operation), err.Error())
	e.cause = err
	return e
}

// NewStaleStateError reports a conditional update that matched no row because
// another writer changed the record first.
func NewStaleStateError(entity, id string) *StandardError {
	return newError(KindConflict, ErrCodeStaleState,
		fmt.Sprintf("%s was modified concurrently", entity),
		fmt.Sprintf("id: %s", id))
}

// ==========================
// 3. Error Conversion to BPMN
// ==========================

// BPMNError represents an error that can be thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for job failure variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// GetRetryCount returns the number of job retries granted to a kind.
func GetRetryCount(kind Kind) int {
	if kind == KindDependency {
		return 3
	}
	return 0
}

// ConvertToBPMNError converts a StandardError for the workflow engine. The BPMN
// error code is the kind, so process models catch on the stable taxonomy.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Kind)
	if !stdErr.Retryable {
		retries = 0
	}
	return &BPMNError{
		Code:      string(stdErr.Kind),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// Normalize returns err as a StandardError, wrapping foreign errors as
// dependency failures.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewDependencyError("unclassified operation", err)
}
