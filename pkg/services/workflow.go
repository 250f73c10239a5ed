package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

// Workflow implements the authoring lifecycle: drafts are editable, publishing
// freezes a version and retires the group's previous published version, and
// edits to a published workflow go through a fresh draft in the same group.
type Workflow struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, clock clockwork.Clock) *Workflow {
	return &Workflow{
		persistence: persistence,
		clock:       clock,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflows retrieves workflows, optionally filtered by status.
func (w *Workflow) ListWorkflows(ctx context.Context, status *models.WorkflowStatus) ([]*models.Workflow, error) {
	if status != nil && !validWorkflowStatus(*status) {
		return nil, NewValidationError(
			"ListWorkflows",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", *status),
			ErrInvalidStatus,
		)
	}

	workflows, err := w.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	if status == nil {
		return workflows, nil
	}

	filtered := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.Status == *status {
			filtered = append(filtered, workflow)
		}
	}

	return filtered, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create adds a new draft workflow. The node chain must already be executable;
// an invalid chain is rejected up front rather than at publish time.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	workflow.Status = models.WorkflowStatusDraft

	now := w.clock.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.WorkflowGroupID == "" {
		workflow.WorkflowGroupID = uuid.New().String()
	}

	w.stampNodes(workflow)

	if err := w.validateChain(workflow); err != nil {
		return nil, err
	}

	err := w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update modifies an existing draft workflow. Published and unpublished
// versions are immutable.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch existing.Status {
	case models.WorkflowStatusPublished:
		return nil, ErrCannotModifyPublished
	case models.WorkflowStatusUnpublished:
		return nil, ErrCannotModifyUnpublished
	case models.WorkflowStatusDraft:
	}

	workflow.Status = models.WorkflowStatusDraft
	workflow.ID = workflowID
	workflow.WorkflowGroupID = existing.WorkflowGroupID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.clock.Now().UTC()

	w.stampNodes(workflow)

	if err := w.validateChain(workflow); err != nil {
		return nil, err
	}

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Publish freezes a draft as the group's published version. Any previously
// published version in the same group is moved to unpublished, so in-flight
// instances pinned to it keep executing against an immutable definition.
func (w *Workflow) Publish(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusDraft {
		return nil, ErrCannotModifyPublished
	}

	// Publishing demands a complete, executable chain; the empty-draft
	// allowance from authoring does not apply here.
	if err := workflow.ValidateChain(); err != nil {
		return nil, NewValidationError("Publish", "INVALID_CHAIN", err.Error(), ErrInvalidChain)
	}

	now := w.clock.Now().UTC()

	current, err := w.publishedInGroup(ctx, workflow.WorkflowGroupID)
	if err != nil {
		return nil, err
	}

	if current != nil {
		current.Status = models.WorkflowStatusUnpublished
		current.UpdatedAt = now

		if err := w.persistence.SaveWorkflow(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to retire published version: %w", err)
		}
	}

	workflow.Status = models.WorkflowStatusPublished
	workflow.PublishedAt = &now
	workflow.UpdatedAt = now

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return workflow, nil
}

// CreateDraftFromPublished copies the group's published version into a new
// editable draft with fresh node IDs preserved, leaving the published version
// untouched.
func (w *Workflow) CreateDraftFromPublished(ctx context.Context, workflowGroupID string) (*models.Workflow, error) {
	published, err := w.publishedInGroup(ctx, workflowGroupID)
	if err != nil {
		return nil, err
	}

	if published == nil {
		return nil, ErrWorkflowNotFound
	}

	now := w.clock.Now().UTC()

	draft := *published
	draft.ID = uuid.New().String()
	draft.Status = models.WorkflowStatusDraft
	draft.PublishedAt = nil
	draft.CreatedAt = now
	draft.UpdatedAt = now

	draft.Nodes = make([]*models.WorkflowNode, 0, len(published.Nodes))

	for _, node := range published.Nodes {
		copied := *node
		copied.WorkflowID = draft.ID
		draft.Nodes = append(draft.Nodes, &copied)
	}

	if err := w.persistence.SaveWorkflow(ctx, &draft); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	return &draft, nil
}

// Delete removes a workflow by its ID. The published version of a group cannot
// be deleted while it may still have triggerable instances; unpublish it first
// by publishing a replacement.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if existing.Status == models.WorkflowStatusPublished {
		return ErrCannotModifyPublished
	}

	err = w.persistence.DeleteWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (w *Workflow) publishedInGroup(ctx context.Context, groupID string) (*models.Workflow, error) {
	workflows, err := w.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	for _, workflow := range workflows {
		if workflow.WorkflowGroupID == groupID && workflow.Status == models.WorkflowStatusPublished {
			return workflow, nil
		}
	}

	return nil, nil
}

func (w *Workflow) validateChain(workflow *models.Workflow) error {
	if err := workflow.ValidateChain(); err != nil {
		if errors.Is(err, models.ErrChainEmpty) && workflow.Status == models.WorkflowStatusDraft {
			// Empty drafts are allowed while authoring; they fail at publish.
			return nil
		}

		return NewValidationError("validateChain", "INVALID_CHAIN", err.Error(), ErrInvalidChain)
	}

	return nil
}

func (w *Workflow) stampNodes(workflow *models.Workflow) {
	for _, node := range workflow.Nodes {
		if node.ID == "" {
			node.ID = uuid.New().String()
		}

		node.WorkflowID = workflow.ID
	}
}

func validWorkflowStatus(status models.WorkflowStatus) bool {
	switch status {
	case models.WorkflowStatusDraft, models.WorkflowStatusPublished, models.WorkflowStatusUnpublished:
		return true
	}

	return false
}
