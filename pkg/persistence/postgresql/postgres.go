// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
	"github.com/heraldflow/herald/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	templateRepo *NodeTemplateRepository
	instanceRepo *InstanceRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
		templateRepo: NewNodeTemplateRepository(database, logger),
		instanceRepo: NewInstanceRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx)
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

// DeleteWorkflow soft deletes a workflow by setting deleted_at.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Delete(ctx, id)
}

func (p *Persistence) NodeTemplates(ctx context.Context) ([]*models.NodeTemplate, error) {
	return p.templateRepo.GetAll(ctx)
}

func (p *Persistence) SaveNodeTemplate(ctx context.Context, tpl *models.NodeTemplate) error {
	return p.templateRepo.Save(ctx, tpl)
}

func (p *Persistence) NodeTemplateByCode(ctx context.Context, code string) (*models.NodeTemplate, error) {
	return p.templateRepo.GetByCode(ctx, code)
}

func (p *Persistence) CreateInstance(ctx context.Context, instance *models.TriggerInstance) (*models.TriggerInstance, bool, error) {
	return p.instanceRepo.Create(ctx, instance)
}

func (p *Persistence) InstanceByID(ctx context.Context, id string) (*models.TriggerInstance, error) {
	return p.instanceRepo.GetByID(ctx, id)
}

func (p *Persistence) ListInstances(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	return p.instanceRepo.List(ctx, opts)
}

func (p *Persistence) DueInstances(ctx context.Context, now time.Time, limit int) ([]*models.TriggerInstance, error) {
	return p.instanceRepo.Due(ctx, now, limit)
}

func (p *Persistence) ClaimInstance(ctx context.Context, id string, from models.InstanceStatus, seenAt time.Time, now time.Time) (bool, error) {
	return p.instanceRepo.Claim(ctx, id, from, seenAt, now)
}

func (p *Persistence) CompleteCycle(ctx context.Context, id string, next models.NextState, claimedAt time.Time, now time.Time) error {
	return p.instanceRepo.CompleteCycle(ctx, id, next, claimedAt, now)
}

func (p *Persistence) ReapStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.TriggerInstance, error) {
	return p.instanceRepo.ReapStale(ctx, olderThan, limit)
}

func (p *Persistence) CancelInstance(ctx context.Context, id string, now time.Time) (*models.TriggerInstance, error) {
	return p.instanceRepo.Cancel(ctx, id, now)
}
