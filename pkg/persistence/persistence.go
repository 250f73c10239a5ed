// Package persistence provides the data storage abstraction for workflows,
// node templates and trigger instances.
package persistence

import (
	"context"
	"time"

	"github.com/heraldflow/herald/pkg/models"
)

// ListInstancesOptions filters and paginates instance queries for the
// administrative surface.
type ListInstancesOptions struct {
	WorkflowID string
	Status     *models.InstanceStatus
	Page       int
	Limit      int
}

// InstanceListResult carries one page of instances plus the total match count.
type InstanceListResult struct {
	Instances  []*models.TriggerInstance
	TotalCount int64
}

// Persistence is the transactional store behind the engine. The trigger
// instance operations are its coordination primitives: all engine mutation is
// a conditional update keyed on the instance's current status, so multiple
// worker processes need no coordination beyond this interface.
type Persistence interface {
	// Workflow definition store.
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Node template library.
	NodeTemplates(ctx context.Context) ([]*models.NodeTemplate, error)
	SaveNodeTemplate(ctx context.Context, tpl *models.NodeTemplate) error
	NodeTemplateByCode(ctx context.Context, code string) (*models.NodeTemplate, error)

	// CreateInstance atomically creates the instance or, when its
	// (workflow_id, idempotency_key) pair already exists, returns the
	// existing instance untouched. created reports which happened.
	CreateInstance(ctx context.Context, instance *models.TriggerInstance) (result *models.TriggerInstance, created bool, err error)

	InstanceByID(ctx context.Context, id string) (*models.TriggerInstance, error)
	ListInstances(ctx context.Context, opts ListInstancesOptions) (*InstanceListResult, error)

	// DueInstances returns up to limit claimable instances (pending or
	// waiting, available_at <= now), oldest-due first.
	DueInstances(ctx context.Context, now time.Time, limit int) ([]*models.TriggerInstance, error)

	// ClaimInstance transitions the instance to running only if it is still
	// claimable, its status still equals from and its updated_at still equals
	// seenAt. The updated_at fence rejects claims made from a snapshot another
	// worker has advanced in the meantime, even when the status cycled back to
	// the snapshot's value. claimed is false when the claim was lost. The
	// claim stamps available_at with now, which the reaper reads as the claim
	// time and CompleteCycle uses as the claim fence.
	ClaimInstance(ctx context.Context, id string, from models.InstanceStatus, seenAt time.Time, now time.Time) (claimed bool, err error)

	// CompleteCycle persists the executor's verdict as a single atomic
	// update, conditioned on the instance still being running with this
	// worker's claim stamp (the now value it passed to ClaimInstance). It
	// returns ErrClaimConflict when the claim no longer holds, e.g. a
	// cancellation or the reaper got there first, or the claim was reaped and
	// re-claimed by another worker; the caller discards its verdict and honors
	// the winning state.
	CompleteCycle(ctx context.Context, id string, next models.NextState, claimedAt time.Time, now time.Time) error

	// ReapStale resets running instances whose claim time predates olderThan
	// back to pending and returns them for audit logging.
	ReapStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.TriggerInstance, error)

	// CancelInstance marks a non-terminal, non-running instance cancelled.
	// It returns ErrInstanceRunning when the instance is currently claimed
	// (the caller retries) and ErrInstanceTerminal when nothing is left to
	// cancel.
	CancelInstance(ctx context.Context, id string, now time.Time) (*models.TriggerInstance, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
