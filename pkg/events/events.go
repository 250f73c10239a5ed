// Package events defines the audit event stream emitted on instance state transitions.
package events

import (
	"time"

	"github.com/heraldflow/herald/pkg/models"
)

type EventType string

// AuditTopic is the append-only stream consumed by compliance and
// observability sinks.
const AuditTopic = "herald.audit"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceCreatedEvent      EventType = "instance.created"
	InstanceTransitionedEvent EventType = "instance.transitioned"
	InstanceReapedEvent       EventType = "instance.reaped"
	InstanceCancelledEvent    EventType = "instance.cancelled"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	InstanceID string    `json:"instance_id"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

// InstanceCreated is emitted once per trigger instance, on first ingestion.
// Idempotent replays of the same key do not emit it again.
type InstanceCreated struct {
	BaseEvent

	IdempotencyKey string  `json:"idempotency_key"`
	CursorNodeID   *string `json:"cursor_node_id,omitempty"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

// InstanceTransitioned records one execution cycle: which node ran, the
// status edge, the attempt count and the outcome.
type InstanceTransitioned struct {
	BaseEvent

	NodeID        string                `json:"node_id,omitempty"`
	FromStatus    models.InstanceStatus `json:"from_status"`
	ToStatus      models.InstanceStatus `json:"to_status"`
	Attempts      int                   `json:"attempts"`
	Outcome       models.StepOutcome    `json:"outcome"`
	FailureReason string                `json:"failure_reason,omitempty"`
	AvailableAt   time.Time             `json:"available_at"`
}

func (e InstanceTransitioned) GetType() EventType {
	return InstanceTransitionedEvent
}

// InstanceReaped records a stale running claim reset to pending after its
// lease expired, usually because a worker crashed mid-cycle.
type InstanceReaped struct {
	BaseEvent

	ClaimedAt time.Time `json:"claimed_at"`
}

func (e InstanceReaped) GetType() EventType {
	return InstanceReapedEvent
}

// InstanceCancelled records an administrative cancellation.
type InstanceCancelled struct {
	BaseEvent

	FromStatus models.InstanceStatus `json:"from_status"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}
