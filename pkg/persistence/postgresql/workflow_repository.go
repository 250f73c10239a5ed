package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll retrieves all non-deleted workflows with their nodes.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT id, name, description, status, workflow_group_id, context_schema,
		       owner, created_at, updated_at, published_at, deleted_at
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at
	`

	rows, err := wr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			wr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := wr.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		nodes, err := wr.nodesForWorkflow(ctx, workflow.ID)
		if err != nil {
			return nil, err
		}

		workflow.Nodes = nodes
	}

	return workflows, nil
}

// GetByID retrieves a workflow and its nodes by ID.
func (wr *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, status, workflow_group_id, context_schema,
		       owner, created_at, updated_at, published_at, deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := wr.db.QueryRowContext(ctx, query, id)

	workflow, err := wr.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow %s: %w", id, err)
	}

	nodes, err := wr.nodesForWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.Nodes = nodes

	return workflow, nil
}

// Save upserts the workflow row and replaces its node set in one transaction.
func (wr *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	contextSchema, err := marshalNullableJSON(workflow.ContextSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal context schema: %w", err)
	}

	tx, err := wr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			wr.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}
	}()

	upsert := `
		INSERT INTO workflows (id, name, description, status, workflow_group_id, context_schema,
		                       owner, created_at, updated_at, published_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			context_schema = EXCLUDED.context_schema,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		workflow.ID, workflow.Name, workflow.Description, workflow.Status,
		workflow.WorkflowGroupID, contextSchema, workflow.Owner,
		workflow.CreatedAt, workflow.UpdatedAt, workflow.PublishedAt, workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear workflow nodes: %w", err)
	}

	insertNode := `
		INSERT INTO workflow_nodes (id, workflow_id, name, node_type, spec, next_node_id, enabled, position, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for position, node := range workflow.Nodes {
		spec, err := marshalNodeSpec(node)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s spec: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, insertNode,
			node.ID, workflow.ID, node.Name, node.Type, spec,
			node.NextNodeID, node.Enabled, position, node.DeletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow save: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow.
func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := wr.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (wr *WorkflowRepository) nodesForWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowNode, error) {
	query := `
		SELECT id, workflow_id, name, node_type, spec, next_node_id, enabled, deleted_at
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position
	`

	rows, err := wr.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			wr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var nodes []*models.WorkflowNode

	for rows.Next() {
		node := &models.WorkflowNode{}

		var (
			spec       []byte
			nextNodeID sql.NullString
			deletedAt  sql.NullTime
		)

		err := rows.Scan(&node.ID, &node.WorkflowID, &node.Name, &node.Type,
			&spec, &nextNodeID, &node.Enabled, &deletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		if nextNodeID.Valid {
			node.NextNodeID = &nextNodeID.String
		}

		if deletedAt.Valid {
			node.DeletedAt = &deletedAt.Time
		}

		if err := unmarshalNodeSpec(node, spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s spec: %w", node.ID, err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (wr *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	var (
		contextSchema []byte
		publishedAt   sql.NullTime
		deletedAt     sql.NullTime
	)

	err := row.Scan(&workflow.ID, &workflow.Name, &workflow.Description, &workflow.Status,
		&workflow.WorkflowGroupID, &contextSchema, &workflow.Owner,
		&workflow.CreatedAt, &workflow.UpdatedAt, &publishedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		workflow.PublishedAt = &publishedAt.Time
	}

	if deletedAt.Valid {
		workflow.DeletedAt = &deletedAt.Time
	}

	if len(contextSchema) > 0 {
		if err := json.Unmarshal(contextSchema, &workflow.ContextSchema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context schema: %w", err)
		}
	}

	return workflow, nil
}

// marshalNodeSpec serializes the one populated variant spec of a node.
func marshalNodeSpec(node *models.WorkflowNode) ([]byte, error) {
	switch node.Type {
	case models.NodeTypeEmail:
		return json.Marshal(node.Email)
	case models.NodeTypeSMS:
		return json.Marshal(node.SMS)
	case models.NodeTypeDelay:
		return json.Marshal(node.Delay)
	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}
}

func unmarshalNodeSpec(node *models.WorkflowNode, spec []byte) error {
	switch node.Type {
	case models.NodeTypeEmail:
		node.Email = &models.EmailNodeSpec{}

		return json.Unmarshal(spec, node.Email)
	case models.NodeTypeSMS:
		node.SMS = &models.SMSNodeSpec{}

		return json.Unmarshal(spec, node.SMS)
	case models.NodeTypeDelay:
		node.Delay = &models.DelayNodeSpec{}

		return json.Unmarshal(spec, node.Delay)
	default:
		// Unknown types survive as bare nodes; the executor faults them.
		return nil
	}
}

func marshalNullableJSON(value map[string]any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return data, nil
}
