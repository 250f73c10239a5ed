// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidStatus   = errors.New("invalid status filter")
	ErrWorkflowNil     = errors.New("workflow cannot be nil")
	ErrInvalidChain    = errors.New("workflow node chain is invalid")
	ErrInvalidTemplate = errors.New("node template is invalid")

	// Business Logic Conflicts (409 Conflict).
	ErrCannotModifyPublished   = errors.New("cannot modify published workflow")
	ErrCannotModifyUnpublished = errors.New("cannot modify unpublished workflow")
	ErrAlreadyPublished        = errors.New("workflow group already has a published version")
	ErrInstanceNotCancellable  = errors.New("instance cannot be cancelled")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrInvalidChain) ||
		errors.Is(err, ErrInvalidTemplate)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrCannotModifyUnpublished) ||
		errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrInstanceNotCancellable)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
