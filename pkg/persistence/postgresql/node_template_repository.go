package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

// NodeTemplateRepository handles the reusable template library.
type NodeTemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeTemplateRepository creates a new node template repository.
func NewNodeTemplateRepository(db *sql.DB, logger *slog.Logger) *NodeTemplateRepository {
	return &NodeTemplateRepository{db: db, logger: logger}
}

// GetAll retrieves all node templates ordered by code.
func (tr *NodeTemplateRepository) GetAll(ctx context.Context) ([]*models.NodeTemplate, error) {
	query := `
		SELECT id, code, node_type, body, created_at, updated_at
		FROM node_templates
		ORDER BY code
	`

	rows, err := tr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query node templates: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			tr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var templates []*models.NodeTemplate

	for rows.Next() {
		tpl := &models.NodeTemplate{}

		err := rows.Scan(&tpl.ID, &tpl.Code, &tpl.Type, &tpl.Body, &tpl.CreatedAt, &tpl.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node template: %w", err)
		}

		templates = append(templates, tpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node templates: %w", err)
	}

	return templates, nil
}

// GetByCode retrieves a node template by its unique code.
func (tr *NodeTemplateRepository) GetByCode(ctx context.Context, code string) (*models.NodeTemplate, error) {
	query := `
		SELECT id, code, node_type, body, created_at, updated_at
		FROM node_templates
		WHERE code = $1
	`

	tpl := &models.NodeTemplate{}

	err := tr.db.QueryRowContext(ctx, query, code).
		Scan(&tpl.ID, &tpl.Code, &tpl.Type, &tpl.Body, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNodeTemplateNotFound
		}

		return nil, fmt.Errorf("failed to query node template %s: %w", code, err)
	}

	return tpl, nil
}

// Save upserts a node template keyed by code.
func (tr *NodeTemplateRepository) Save(ctx context.Context, tpl *models.NodeTemplate) error {
	query := `
		INSERT INTO node_templates (id, code, node_type, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	_, err := tr.db.ExecContext(ctx, query,
		tpl.ID, tpl.Code, tpl.Type, tpl.Body, tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save node template %s: %w", tpl.Code, err)
	}

	return nil
}
