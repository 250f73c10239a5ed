// Package ingest implements the idempotency guard on trigger ingestion: one
// external event maps to at most one trigger instance per workflow.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"

	"github.com/heraldflow/herald/pkg/eventbus"
	"github.com/heraldflow/herald/pkg/events"
	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

var (
	// ErrWorkflowNotPublished indicates the workflow exists but is not in a
	// triggerable status.
	ErrWorkflowNotPublished = errors.New("workflow is not published")

	// ErrEmptyIdempotencyKey indicates the caller supplied no idempotency key.
	ErrEmptyIdempotencyKey = errors.New("idempotency key is required")

	// ErrContextSchemaViolation indicates the trigger context does not match
	// the workflow's declared context schema.
	ErrContextSchemaViolation = errors.New("trigger context violates workflow context schema")
)

// Result reports the ingestion outcome: the instance that now represents the
// trigger, and whether this call created it.
type Result struct {
	Instance *models.TriggerInstance
	Created  bool
}

// Service is the idempotency guard in front of the trigger instance store.
type Service struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewService creates an ingest service. The bus may be nil when no audit sink
// is wired, e.g. in the trigger CLI.
func NewService(store persistence.Persistence, bus eventbus.EventPublisher, clock clockwork.Clock, logger *slog.Logger) *Service {
	return &Service{
		persistence: store,
		bus:         bus,
		clock:       clock,
		logger:      logger.With("module", "ingest"),
	}
}

// Ingest creates a trigger instance for the workflow, or returns the existing
// instance when the (workflow, idempotency key) pair was seen before.
// Duplicate triggers cause no side effects and no state reset.
func (s *Service) Ingest(ctx context.Context, workflowID, idempotencyKey string, triggerContext map[string]any) (*Result, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, ErrEmptyIdempotencyKey
	}

	workflow, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workflow %s: %w", workflowID, err)
	}

	if workflow.Status != models.WorkflowStatusPublished {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowNotPublished)
	}

	if err := s.validateContext(workflow, triggerContext); err != nil {
		return nil, err
	}

	head, err := workflow.Head()
	if err != nil {
		return nil, fmt.Errorf("workflow %s has no executable chain: %w", workflowID, err)
	}

	now := s.clock.Now().UTC()
	cursor := head.ID

	instance := &models.TriggerInstance{
		ID:             "ti-" + uuid.New().String(),
		WorkflowID:     workflow.ID,
		IdempotencyKey: idempotencyKey,
		TriggerContext: triggerContext,
		CursorNodeID:   &cursor,
		Status:         models.InstanceStatusPending,
		Attempts:       0,
		AvailableAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result, created, err := s.persistence.CreateInstance(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	if created {
		s.logger.InfoContext(ctx, "Created trigger instance",
			"instance_id", result.ID,
			"workflow_id", workflow.ID,
			"idempotency_key", idempotencyKey)

		s.publishCreated(ctx, result)
	} else {
		s.logger.DebugContext(ctx, "Idempotent replay of trigger",
			"instance_id", result.ID,
			"workflow_id", workflow.ID,
			"idempotency_key", idempotencyKey)
	}

	return &Result{Instance: result, Created: created}, nil
}

func (s *Service) validateContext(workflow *models.Workflow, triggerContext map[string]any) error {
	if workflow.ContextSchema == nil {
		return nil
	}

	schema := gojsonschema.NewGoLoader(workflow.ContextSchema)

	document := triggerContext
	if document == nil {
		document = map[string]any{}
	}

	validation, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate trigger context: %w", err)
	}

	if !validation.Valid() {
		details := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrContextSchemaViolation, strings.Join(details, "; "))
	}

	return nil
}

func (s *Service) publishCreated(ctx context.Context, instance *models.TriggerInstance) {
	if s.bus == nil {
		return
	}

	event := events.InstanceCreated{
		BaseEvent: events.BaseEvent{
			ID:         "evt-" + uuid.New().String()[:8],
			Type:       events.InstanceCreatedEvent,
			Timestamp:  s.clock.Now().UTC(),
			WorkflowID: instance.WorkflowID,
			InstanceID: instance.ID,
		},
		IdempotencyKey: instance.IdempotencyKey,
		CursorNodeID:   instance.CursorNodeID,
	}

	if err := s.bus.Publish(ctx, instance.ID, event); err != nil {
		// Audit delivery must not fail ingestion.
		s.logger.ErrorContext(ctx, "Failed to publish instance created event",
			"instance_id", instance.ID, "error", err)
	}
}
