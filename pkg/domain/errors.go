package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap them in a DomainError and test with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrDuplicateAssignment = errors.New("duplicate assignment")
	ErrUnavailable         = errors.New("unavailable")
	ErrInternal            = errors.New("internal error")
)

// DomainError carries an error kind together with a human readable message.
type DomainError struct {
	Err     error
	Message string
	Field   string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *DomainError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NewValidationError reports malformed input on a specific field.
func NewValidationError(field, message string) *DomainError {
	return &DomainError{Err: ErrInvalidInput, Field: field, Message: message}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Err: ErrNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewAccessDeniedError reports an ownership mismatch.
func NewAccessDeniedError(message string) *DomainError {
	return &DomainError{Err: ErrAccessDenied, Message: message}
}

// NewConstraintError reports an operation that would break a persisted invariant.
func NewConstraintError(message string) *DomainError {
	return &DomainError{Err: ErrConstraintViolation, Message: message}
}

// NewDuplicateAssignmentError signals that the idempotency key already has a record.
func NewDuplicateAssignmentError(automationID, eventID string) *DomainError {
	return &DomainError{
		Err:     ErrDuplicateAssignment,
		Message: fmt.Sprintf("assignment for automation %s and event %s already exists", automationID, eventID),
	}
}

// NewUnavailableError wraps a transient storage failure.
func NewUnavailableError(message string, cause error) *DomainError {
	return &DomainError{Err: ErrUnavailable, Message: message, Cause: cause}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *DomainError {
	return &DomainError{Err: ErrInternal, Message: message, Cause: cause}
}

// Kind returns the sentinel kind of err, or ErrInternal when err is not a DomainError.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidInput,
		ErrNotFound,
		ErrAccessDenied,
		ErrConstraintViolation,
		ErrDuplicateAssignment,
		ErrUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}
