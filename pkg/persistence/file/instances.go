package file

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"sort"
	"time"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

func timeNow() time.Time {
	return time.Now().UTC()
}

// CreateInstance creates the instance or returns the existing one for the
// same (workflow_id, idempotency_key). The mutex makes create-or-return
// atomic within the process.
func (fp *Persistence) CreateInstance(_ context.Context, instance *models.TriggerInstance) (*models.TriggerInstance, bool, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	existing, err := fp.instanceByKeyLocked(instance.WorkflowID, instance.IdempotencyKey)
	if err != nil && !errors.Is(err, persistence.ErrInstanceNotFound) {
		return nil, false, err
	}

	if existing != nil {
		return existing, false, nil
	}

	if err := writeEntity(fp.dir("instances"), instance.ID, instance); err != nil {
		return nil, false, err
	}

	return instance, true, nil
}

func (fp *Persistence) InstanceByID(_ context.Context, id string) (*models.TriggerInstance, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.instanceByIDLocked(id)
}

func (fp *Persistence) instanceByIDLocked(id string) (*models.TriggerInstance, error) {
	instance, err := readEntity[models.TriggerInstance](fp.dir("instances"), id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, err
	}

	return instance, nil
}

func (fp *Persistence) instanceByKeyLocked(workflowID, idempotencyKey string) (*models.TriggerInstance, error) {
	instances, err := readAll[models.TriggerInstance](fp.dir("instances"))
	if err != nil {
		return nil, err
	}

	for _, instance := range instances {
		if instance.WorkflowID == workflowID && instance.IdempotencyKey == idempotencyKey {
			return instance, nil
		}
	}

	return nil, persistence.ErrInstanceNotFound
}

func (fp *Persistence) ListInstances(_ context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.Page <= 0 {
		opts.Page = 1
	}

	instances, err := readAll[models.TriggerInstance](fp.dir("instances"))
	if err != nil {
		return nil, err
	}

	matched := make([]*models.TriggerInstance, 0, len(instances))

	for _, instance := range instances {
		if opts.WorkflowID != "" && instance.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.Status != nil && instance.Status != *opts.Status {
			continue
		}

		matched = append(matched, instance)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	offset := (opts.Page - 1) * opts.Limit
	if offset > len(matched) {
		offset = len(matched)
	}

	end := offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return &persistence.InstanceListResult{
		Instances:  matched[offset:end],
		TotalCount: total,
	}, nil
}

func (fp *Persistence) DueInstances(_ context.Context, now time.Time, limit int) ([]*models.TriggerInstance, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	instances, err := readAll[models.TriggerInstance](fp.dir("instances"))
	if err != nil {
		return nil, err
	}

	due := make([]*models.TriggerInstance, 0, len(instances))

	for _, instance := range instances {
		if slices.Contains(models.ClaimableStatuses, instance.Status) && !instance.AvailableAt.After(now) {
			due = append(due, instance)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].AvailableAt.Before(due[j].AvailableAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (fp *Persistence) ClaimInstance(_ context.Context, id string, from models.InstanceStatus, seenAt time.Time, now time.Time) (bool, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	instance, err := fp.instanceByIDLocked(id)
	if err != nil {
		return false, err
	}

	if !slices.Contains(models.ClaimableStatuses, from) {
		return false, nil
	}

	// The updated_at fence rejects claims made from a snapshot that another
	// worker has advanced past, even when the status matches again.
	if instance.Status != from || !instance.UpdatedAt.Equal(seenAt) || instance.AvailableAt.After(now) {
		return false, nil
	}

	instance.Status = models.InstanceStatusRunning
	instance.AvailableAt = now
	instance.UpdatedAt = now

	if err := writeEntity(fp.dir("instances"), instance.ID, instance); err != nil {
		return false, err
	}

	return true, nil
}

func (fp *Persistence) CompleteCycle(_ context.Context, id string, next models.NextState, claimedAt time.Time, now time.Time) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	instance, err := fp.instanceByIDLocked(id)
	if err != nil {
		return err
	}

	// available_at must still carry this worker's claim stamp; a matching
	// status alone could be another worker's claim after a reap.
	if instance.Status != models.InstanceStatusRunning || !instance.AvailableAt.Equal(claimedAt) {
		return persistence.NewInstanceError("CompleteCycle", id, persistence.ErrClaimConflict)
	}

	instance.CursorNodeID = next.CursorNodeID
	instance.Status = next.Status
	instance.Attempts = next.Attempts
	instance.AvailableAt = next.AvailableAt
	instance.FailureReason = next.FailureReason
	instance.UpdatedAt = now

	return writeEntity(fp.dir("instances"), instance.ID, instance)
}

func (fp *Persistence) ReapStale(_ context.Context, olderThan time.Time, limit int) ([]*models.TriggerInstance, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	instances, err := readAll[models.TriggerInstance](fp.dir("instances"))
	if err != nil {
		return nil, err
	}

	stale := make([]*models.TriggerInstance, 0, len(instances))

	for _, instance := range instances {
		if instance.Status == models.InstanceStatusRunning && instance.AvailableAt.Before(olderThan) {
			stale = append(stale, instance)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].AvailableAt.Before(stale[j].AvailableAt)
	})

	if len(stale) > limit {
		stale = stale[:limit]
	}

	now := timeNow()

	for _, instance := range stale {
		instance.Status = models.InstanceStatusPending
		instance.UpdatedAt = now

		if err := writeEntity(fp.dir("instances"), instance.ID, instance); err != nil {
			return nil, err
		}
	}

	return stale, nil
}

func (fp *Persistence) CancelInstance(_ context.Context, id string, now time.Time) (*models.TriggerInstance, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	instance, err := fp.instanceByIDLocked(id)
	if err != nil {
		return nil, err
	}

	switch {
	case instance.Status == models.InstanceStatusRunning:
		return nil, persistence.NewInstanceError("Cancel", id, persistence.ErrInstanceRunning)
	case instance.Status.Terminal():
		return nil, persistence.NewInstanceError("Cancel", id, persistence.ErrInstanceTerminal)
	}

	instance.Status = models.InstanceStatusCancelled
	instance.UpdatedAt = now

	if err := writeEntity(fp.dir("instances"), instance.ID, instance); err != nil {
		return nil, err
	}

	return instance, nil
}
