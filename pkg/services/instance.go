package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/heraldflow/herald/pkg/eventbus"
	"github.com/heraldflow/herald/pkg/events"
	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

// ErrInstanceNotFound is returned when a trigger instance is not found.
var ErrInstanceNotFound = persistence.ErrInstanceNotFound

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Instance exposes the administrative surface over trigger instances:
// paginated queries and cancellation. Execution itself belongs to the engine.
type Instance struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewInstance creates a new instance service.
func NewInstance(
	store persistence.Persistence,
	bus eventbus.EventPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Instance {
	return &Instance{
		persistence: store,
		bus:         bus,
		clock:       clock,
		logger:      logger.With("module", "instance-service"),
	}
}

// ListInstancesRequest contains filters and pagination for listing instances.
type ListInstancesRequest struct {
	WorkflowID string
	Status     *models.InstanceStatus
	Page       int
	Limit      int
}

// Pagination describes one page of a list response.
type Pagination struct {
	Current int   `json:"current"`
	Limit   int   `json:"limit"`
	Records int64 `json:"records"`
	Pages   int   `json:"pages"`
}

// ListInstancesResponse contains one page of instances plus pagination metadata.
type ListInstancesResponse struct {
	Pagination Pagination                `json:"pagination"`
	Data       []*models.TriggerInstance `json:"data"`
}

// List retrieves trigger instances with filtering and pagination.
func (s *Instance) List(ctx context.Context, req ListInstancesRequest) (*ListInstancesResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}

	if req.Limit <= 0 {
		req.Limit = defaultPageLimit
	}

	if req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}

	if req.Status != nil && !validInstanceStatus(*req.Status) {
		return nil, NewValidationError(
			"List",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", *req.Status),
			ErrInvalidStatus,
		)
	}

	result, err := s.persistence.ListInstances(ctx, persistence.ListInstancesOptions{
		WorkflowID: req.WorkflowID,
		Status:     req.Status,
		Page:       req.Page,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	pages := int(result.TotalCount) / req.Limit
	if int(result.TotalCount)%req.Limit != 0 {
		pages++
	}

	return &ListInstancesResponse{
		Pagination: Pagination{
			Current: req.Page,
			Limit:   req.Limit,
			Records: result.TotalCount,
			Pages:   pages,
		},
		Data: result.Instances,
	}, nil
}

// FetchByID retrieves a trigger instance by its ID.
func (s *Instance) FetchByID(ctx context.Context, id string) (*models.TriggerInstance, error) {
	instance, err := s.persistence.InstanceByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, ErrInstanceNotFound
	}

	return instance, nil
}

// Cancel marks a pending or waiting instance cancelled and emits the audit
// event. A running instance cannot be cancelled mid-cycle: the claim loop owns
// it until CompleteCycle, so the caller gets a conflict and retries.
func (s *Instance) Cancel(ctx context.Context, id string) (*models.TriggerInstance, error) {
	now := s.clock.Now().UTC()

	before, err := s.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.persistence.CancelInstance(ctx, id, now)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceTerminal) || errors.Is(err, persistence.ErrInstanceRunning) {
			return nil, fmt.Errorf("%w: %w", ErrInstanceNotCancellable, err)
		}

		return nil, fmt.Errorf("failed to cancel instance: %w", err)
	}

	s.logger.InfoContext(ctx, "Cancelled trigger instance",
		"instance_id", id, "workflow_id", cancelled.WorkflowID, "from_status", before.Status)

	if s.bus != nil {
		event := events.InstanceCancelled{
			BaseEvent: events.BaseEvent{
				ID:         "evt-" + uuid.New().String()[:8],
				Type:       events.InstanceCancelledEvent,
				Timestamp:  now,
				WorkflowID: cancelled.WorkflowID,
				InstanceID: cancelled.ID,
			},
			FromStatus: before.Status,
		}

		if err := s.bus.Publish(ctx, cancelled.ID, event); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish cancellation event",
				"instance_id", id, "error", err)
		}
	}

	return cancelled, nil
}

func validInstanceStatus(status models.InstanceStatus) bool {
	switch status {
	case models.InstanceStatusPending,
		models.InstanceStatusRunning,
		models.InstanceStatusWaiting,
		models.InstanceStatusCompleted,
		models.InstanceStatusFailed,
		models.InstanceStatusCancelled:
		return true
	}

	return false
}
