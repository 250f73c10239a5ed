package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

// ErrNodeTemplateNotFound is returned when no template exists for a code.
var ErrNodeTemplateNotFound = persistence.ErrNodeTemplateNotFound

// NodeTemplate manages the shared template library that nodes reference by
// code when they carry no inline template text.
type NodeTemplate struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
}

// NewNodeTemplate creates a new node template service.
func NewNodeTemplate(persistence persistence.Persistence, clock clockwork.Clock) *NodeTemplate {
	return &NodeTemplate{
		persistence: persistence,
		clock:       clock,
	}
}

// List retrieves all node templates.
func (s *NodeTemplate) List(ctx context.Context) ([]*models.NodeTemplate, error) {
	templates, err := s.persistence.NodeTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list node templates: %w", err)
	}

	return templates, nil
}

// FetchByCode retrieves a node template by its code.
func (s *NodeTemplate) FetchByCode(ctx context.Context, code string) (*models.NodeTemplate, error) {
	template, err := s.persistence.NodeTemplateByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if template == nil {
		return nil, ErrNodeTemplateNotFound
	}

	return template, nil
}

// Save creates or replaces a template under its code. Running instances pick
// up the new body on their next cycle; only inline node templates are frozen
// by publishing.
func (s *NodeTemplate) Save(ctx context.Context, template *models.NodeTemplate) (*models.NodeTemplate, error) {
	if template == nil {
		return nil, ErrInvalidTemplate
	}

	template.Code = strings.TrimSpace(template.Code)

	if template.Code == "" || template.Body == "" {
		return nil, NewValidationError(
			"Save",
			"INVALID_TEMPLATE",
			"template code and body are required",
			ErrInvalidTemplate,
		)
	}

	now := s.clock.Now().UTC()

	if template.ID == "" {
		template.ID = uuid.New().String()
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if err := s.persistence.SaveNodeTemplate(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to save node template: %w", err)
	}

	return template, nil
}
