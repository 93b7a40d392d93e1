package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a DomainError for propagation and HTTP mapping.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindExternalService   ErrorKind = "external_service"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindForbidden         ErrorKind = "forbidden"
)

// DomainError is the error type shared by all layers of the service.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *DomainError) Unwrap() error { return e.Err }

// NewValidationError reports malformed or missing input.
func NewValidationError(message string) *DomainError {
	return &DomainError{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message}
}

// NewInvalidTransitionError reports a guard that failed against the current status.
func NewInvalidTransitionError(currentStatus, operation string) *DomainError {
	return &DomainError{
		Kind:    KindInvalidTransition,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("cannot %s a booking request in status %s", operation, currentStatus),
	}
}

// NewGuardError reports a guard that failed for a reason other than the source status.
func NewGuardError(code, message string) *DomainError {
	return &DomainError{Kind: KindInvalidTransition, Code: code, Message: message}
}

// NewExternalServiceError wraps a failed call to a collaborator such as the payment gateway.
func NewExternalServiceError(service string, err error) *DomainError {
	return &DomainError{
		Kind:    KindExternalService,
		Code:    "EXTERNAL_SERVICE_ERROR",
		Message: fmt.Sprintf("%s call failed", service),
		Err:     err,
	}
}

// NewConflictError reports a lost compare-and-set.
func NewConflictError(message string) *DomainError {
	return &DomainError{Kind: KindConflict, Code: "CONFLICT", Message: message}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %s not found", entity, id),
	}
}

// NewForbiddenError reports an authenticated caller acting outside its scope.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Kind: KindForbidden, Code: "FORBIDDEN", Message: message}
}

// KindOf returns the kind of the first DomainError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
