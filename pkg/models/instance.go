package models

import "time"

// InstanceStatus is the lifecycle state of a trigger instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"   // Due or scheduled for execution
	InstanceStatusRunning   InstanceStatus = "running"   // Claimed by exactly one worker
	InstanceStatusWaiting   InstanceStatus = "waiting"   // Suspended by a delay node
	InstanceStatusCompleted InstanceStatus = "completed" // Terminal: chain finished
	InstanceStatusFailed    InstanceStatus = "failed"    // Terminal: exhausted or fatal
	InstanceStatusCancelled InstanceStatus = "cancelled" // Terminal: administrative stop
)

// Terminal reports whether the status permits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// ClaimableStatuses are the statuses the scheduler may claim from.
var ClaimableStatuses = []InstanceStatus{InstanceStatusPending, InstanceStatusWaiting}

// TriggerInstance is one execution run of a workflow, created per external
// event. The row is the unit of mutual exclusion: all engine mutation goes
// through conditional updates keyed on the current status.
//
// AvailableAt does double duty: for pending/waiting it is the earliest time
// the instance may be claimed; while running it records the claim time, which
// the stale-claim reaper compares against the lease duration.
type TriggerInstance struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"     validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required"`
	TriggerContext map[string]any `json:"trigger_context,omitempty"`
	CursorNodeID   *string        `json:"cursor_node_id,omitempty"`
	Status         InstanceStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	AvailableAt    time.Time      `json:"available_at"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StepOutcome labels what a single execution cycle did to an instance,
// recorded on audit events.
type StepOutcome string

const (
	OutcomeAdvanced  StepOutcome = "advanced"  // Notification sent, cursor moved on
	OutcomeCompleted StepOutcome = "completed" // Last node finished the chain
	OutcomeDelayed   StepOutcome = "delayed"   // Delay node scheduled a wake time
	OutcomeRetry     StepOutcome = "retry"     // Transient failure, backoff scheduled
	OutcomeExhausted StepOutcome = "exhausted" // Transient failures reached max attempts
	OutcomeFatal     StepOutcome = "fatal"     // Non-retryable delivery or render failure
	OutcomeFaulted   StepOutcome = "faulted"   // Broken definition (missing node, bad type)
)

// NextState is the step executor's verdict for one execution cycle: the full
// replacement state of the instance plus the audit outcome.
type NextState struct {
	CursorNodeID  *string
	Status        InstanceStatus
	Attempts      int
	AvailableAt   time.Time
	FailureReason string
	Outcome       StepOutcome
	NodeID        string // Node executed this cycle, empty when faulted before resolution
}
