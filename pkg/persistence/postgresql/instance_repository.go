package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

const instanceColumns = `id, workflow_id, idempotency_key, trigger_context, cursor_node_id,
	status, attempts, available_at, failure_reason, created_at, updated_at`

// InstanceRepository handles trigger instance database operations. The
// conditional updates here are the engine's only cross-process coordination;
// every status transition is guarded by the expected prior status.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// Create inserts the instance unless its (workflow_id, idempotency_key) pair
// already exists, in which case the existing instance is returned untouched.
// The unique constraint plus ON CONFLICT DO NOTHING makes concurrent
// identical triggers race-safe.
func (ir *InstanceRepository) Create(ctx context.Context, instance *models.TriggerInstance) (*models.TriggerInstance, bool, error) {
	triggerContext, err := marshalNullableJSON(instance.TriggerContext)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal trigger context: %w", err)
	}

	query := `
		INSERT INTO trigger_instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id, idempotency_key) DO NOTHING
	`

	result, err := ir.db.ExecContext(ctx, query,
		instance.ID, instance.WorkflowID, instance.IdempotencyKey, triggerContext,
		instance.CursorNodeID, instance.Status, instance.Attempts, instance.AvailableAt,
		instance.FailureReason, instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check create result: %w", err)
	}

	if affected == 1 {
		return instance, true, nil
	}

	existing, err := ir.getByKey(ctx, instance.WorkflowID, instance.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

// GetByID retrieves an instance by ID.
func (ir *InstanceRepository) GetByID(ctx context.Context, id string) (*models.TriggerInstance, error) {
	row := ir.db.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM trigger_instances WHERE id = $1", id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance %s: %w", id, err)
	}

	return instance, nil
}

func (ir *InstanceRepository) getByKey(ctx context.Context, workflowID, idempotencyKey string) (*models.TriggerInstance, error) {
	row := ir.db.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM trigger_instances WHERE workflow_id = $1 AND idempotency_key = $2",
		workflowID, idempotencyKey)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance by key: %w", err)
	}

	return instance, nil
}

// List returns one page of instances plus the total match count.
func (ir *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.Page <= 0 {
		opts.Page = 1
	}

	where := "WHERE 1=1"
	args := []any{}

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64

	err := ir.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trigger_instances "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}

	args = append(args, opts.Limit, (opts.Page-1)*opts.Limit)
	query := fmt.Sprintf(
		"SELECT %s FROM trigger_instances %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		instanceColumns, where, len(args)-1, len(args))

	rows, err := ir.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			ir.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	instances, err := collectInstances(rows)
	if err != nil {
		return nil, err
	}

	return &persistence.InstanceListResult{Instances: instances, TotalCount: total}, nil
}

// Due returns up to limit claimable instances ordered oldest-due first, which
// bounds worst-case scheduling latency.
func (ir *InstanceRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.TriggerInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM trigger_instances
		WHERE status IN ('pending', 'waiting') AND available_at <= $1
		ORDER BY available_at ASC
		LIMIT $2
	`

	rows, err := ir.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due instances: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			ir.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	return collectInstances(rows)
}

// Claim transitions the instance to running only if its status still equals
// from and its updated_at still equals seenAt. The updated_at fence rejects
// claims made from a stale snapshot: a row another worker has already advanced
// carries a newer updated_at even when its status cycled back to the
// snapshot's value. available_at is stamped with the claim time for the
// reaper's lease check and the CompleteCycle fence. A zero row count means
// another worker won.
func (ir *InstanceRepository) Claim(ctx context.Context, id string, from models.InstanceStatus, seenAt time.Time, now time.Time) (bool, error) {
	query := `
		UPDATE trigger_instances
		SET status = 'running', available_at = $4, updated_at = $4
		WHERE id = $1 AND status = $2 AND status IN ('pending', 'waiting')
		  AND updated_at = $3 AND available_at <= $4
	`

	result, err := ir.db.ExecContext(ctx, query, id, from, seenAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim instance %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}

	return affected == 1, nil
}

// CompleteCycle persists the executor's verdict, conditioned on the claim
// still holding with this worker's claim stamp. A bare status check would let
// a worker whose claim was reaped and re-claimed overwrite the new claimant's
// state. ErrClaimConflict means a cancellation, the reaper or a re-claim
// landed first; the caller discards its verdict and honors the winner.
func (ir *InstanceRepository) CompleteCycle(ctx context.Context, id string, next models.NextState, claimedAt time.Time, now time.Time) error {
	query := `
		UPDATE trigger_instances
		SET cursor_node_id = $2, status = $3, attempts = $4, available_at = $5,
		    failure_reason = $6, updated_at = $7
		WHERE id = $1 AND status = 'running' AND available_at = $8
	`

	result, err := ir.db.ExecContext(ctx, query,
		id, next.CursorNodeID, next.Status, next.Attempts, next.AvailableAt,
		next.FailureReason, now, claimedAt)
	if err != nil {
		return fmt.Errorf("failed to persist cycle for instance %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cycle result: %w", err)
	}

	if affected == 0 {
		return persistence.NewInstanceError("CompleteCycle", id, persistence.ErrClaimConflict)
	}

	return nil
}

// ReapStale resets running instances whose claim time predates olderThan back
// to pending. Attempts are untouched; the re-executed node is responsible for
// its own idempotency at the dispatcher boundary.
func (ir *InstanceRepository) ReapStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.TriggerInstance, error) {
	query := `
		UPDATE trigger_instances
		SET status = 'pending', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM trigger_instances
			WHERE status = 'running' AND available_at < $1
			ORDER BY available_at ASC
			LIMIT $2
		)
		RETURNING ` + instanceColumns

	rows, err := ir.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stale instances: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			ir.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	return collectInstances(rows)
}

// Cancel marks a pending or waiting instance cancelled. Running instances
// report ErrInstanceRunning so the caller can retry once the cycle settles;
// terminal instances report ErrInstanceTerminal.
func (ir *InstanceRepository) Cancel(ctx context.Context, id string, now time.Time) (*models.TriggerInstance, error) {
	query := `
		UPDATE trigger_instances
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'waiting')
		RETURNING ` + instanceColumns

	row := ir.db.QueryRowContext(ctx, query, id, now)

	instance, err := scanInstance(row)
	if err == nil {
		return instance, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel instance %s: %w", id, err)
	}

	current, err := ir.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case current.Status == models.InstanceStatusRunning:
		return nil, persistence.NewInstanceError("Cancel", id, persistence.ErrInstanceRunning)
	case current.Status.Terminal():
		return nil, persistence.NewInstanceError("Cancel", id, persistence.ErrInstanceTerminal)
	default:
		return nil, persistence.NewInstanceError("Cancel", id, persistence.ErrClaimConflict)
	}
}

func collectInstances(rows *sql.Rows) ([]*models.TriggerInstance, error) {
	var instances []*models.TriggerInstance

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func scanInstance(row rowScanner) (*models.TriggerInstance, error) {
	instance := &models.TriggerInstance{}

	var (
		triggerContext []byte
		cursorNodeID   sql.NullString
	)

	err := row.Scan(&instance.ID, &instance.WorkflowID, &instance.IdempotencyKey,
		&triggerContext, &cursorNodeID, &instance.Status, &instance.Attempts,
		&instance.AvailableAt, &instance.FailureReason, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if cursorNodeID.Valid {
		instance.CursorNodeID = &cursorNodeID.String
	}

	if len(triggerContext) > 0 {
		if err := json.Unmarshal(triggerContext, &instance.TriggerContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger context: %w", err)
		}
	}

	return instance, nil
}
