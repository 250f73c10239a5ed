// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrNodeNotFound indicates a node was not found within its workflow.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeTemplateNotFound indicates no node template exists for the given code.
	ErrNodeTemplateNotFound = errors.New("node template not found")

	// ErrInstanceNotFound indicates a trigger instance was not found.
	ErrInstanceNotFound = errors.New("trigger instance not found")

	// ErrClaimConflict indicates a conditional instance update lost its race:
	// the status changed between read and write.
	ErrClaimConflict = errors.New("instance claim conflict")

	// ErrInstanceTerminal indicates the instance is completed, failed or
	// cancelled and permits no further mutation.
	ErrInstanceTerminal = errors.New("instance is in a terminal status")

	// ErrInstanceRunning indicates the instance is currently claimed by a
	// worker; the requested mutation must be retried.
	ErrInstanceRunning = errors.New("instance is currently running")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// InstanceError wraps trigger-instance errors with additional context.
type InstanceError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsNodeTemplateNotFound checks if an error indicates a template was not found.
func IsNodeTemplateNotFound(err error) bool {
	return errors.Is(err, ErrNodeTemplateNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsClaimConflict checks if an error indicates a lost conditional update.
func IsClaimConflict(err error) bool {
	return errors.Is(err, ErrClaimConflict)
}
