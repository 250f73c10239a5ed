package file

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
)

func newInstance(id, workflowID, key string, status models.InstanceStatus, availableAt time.Time) *models.TriggerInstance {
	cursor := "n1"

	return &models.TriggerInstance{
		ID:             id,
		WorkflowID:     workflowID,
		IdempotencyKey: key,
		CursorNodeID:   &cursor,
		Status:         status,
		AvailableAt:    availableAt,
		CreatedAt:      availableAt,
		UpdatedAt:      availableAt,
	}
}

func TestCreateInstance_Idempotent(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	first := newInstance("ti-1", "wf-1", "evt-100", models.InstanceStatusPending, now)

	created, wasCreated, err := store.CreateInstance(t.Context(), first)
	require.NoError(t, err)
	assert.True(t, wasCreated)
	assert.Equal(t, "ti-1", created.ID)

	// Same key again: the original instance comes back untouched.
	duplicate := newInstance("ti-2", "wf-1", "evt-100", models.InstanceStatusPending, now)

	existing, wasCreated, err := store.CreateInstance(t.Context(), duplicate)
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "ti-1", existing.ID)

	// Same key on another workflow is a distinct instance.
	other := newInstance("ti-3", "wf-2", "evt-100", models.InstanceStatusPending, now)

	_, wasCreated, err = store.CreateInstance(t.Context(), other)
	require.NoError(t, err)
	assert.True(t, wasCreated)
}

func TestCreateInstance_DuplicateKeepsTerminalState(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	first := newInstance("ti-1", "wf-1", "evt-100", models.InstanceStatusPending, now)
	_, _, err := store.CreateInstance(t.Context(), first)
	require.NoError(t, err)

	claimed, err := store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, now, now)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.CompleteCycle(t.Context(), "ti-1", models.NextState{
		Status:      models.InstanceStatusCompleted,
		AvailableAt: now,
	}, now, now))

	replay := newInstance("ti-9", "wf-1", "evt-100", models.InstanceStatusPending, now)

	existing, wasCreated, err := store.CreateInstance(t.Context(), replay)
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, models.InstanceStatusCompleted, existing.Status)
}

func TestDueInstances(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	seed := []*models.TriggerInstance{
		newInstance("ti-due", "wf-1", "k1", models.InstanceStatusPending, now.Add(-time.Minute)),
		newInstance("ti-waiting", "wf-1", "k2", models.InstanceStatusWaiting, now.Add(-2*time.Minute)),
		newInstance("ti-future", "wf-1", "k3", models.InstanceStatusPending, now.Add(time.Hour)),
		newInstance("ti-done", "wf-1", "k4", models.InstanceStatusCompleted, now.Add(-time.Hour)),
	}

	for _, instance := range seed {
		_, _, err := store.CreateInstance(t.Context(), instance)
		require.NoError(t, err)
	}

	due, err := store.DueInstances(t.Context(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	// Oldest due first.
	assert.Equal(t, "ti-waiting", due[0].ID)
	assert.Equal(t, "ti-due", due[1].ID)

	limited, err := store.DueInstances(t.Context(), now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestClaimInstance(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, now.Add(-time.Second)))
	require.NoError(t, err)

	claimed, err := store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, now.Add(-time.Second), now)
	require.NoError(t, err)
	assert.True(t, claimed)

	instance, err := store.InstanceByID(t.Context(), "ti-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, now, instance.AvailableAt)

	// Second claim from the stale snapshot loses.
	claimed, err = store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, now.Add(-time.Second), now)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimInstance_NotYetDue(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, now.Add(time.Hour)))
	require.NoError(t, err)

	claimed, err := store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimInstance_ExactlyOnceUnderContention(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, now.Add(-time.Second)))
	require.NoError(t, err)

	var wins atomic.Int32

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claimed, err := store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, now.Add(-time.Second), now)
			assert.NoError(t, err)

			if claimed {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestClaimInstance_TerminalRejected(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	seed := map[string]models.InstanceStatus{
		"ti-completed": models.InstanceStatusCompleted,
		"ti-failed":    models.InstanceStatusFailed,
		"ti-cancelled": models.InstanceStatusCancelled,
	}

	for id, status := range seed {
		_, _, err := store.CreateInstance(t.Context(),
			newInstance(id, "wf-1", id, status, now.Add(-time.Minute)))
		require.NoError(t, err)
	}

	for id, status := range seed {
		claimed, err := store.ClaimInstance(t.Context(), id, status, now.Add(-time.Minute), now)
		require.NoError(t, err)
		assert.False(t, claimed, "claim of %s instance must be rejected", status)

		instance, err := store.InstanceByID(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, status, instance.Status)
	}
}

func TestClaimInstance_RejectsOutdatedSnapshot(t *testing.T) {
	store := NewPersistence(t.TempDir())
	t0 := time.Now().UTC().Add(-time.Minute)

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, t0))
	require.NoError(t, err)

	// Both workers fetch the same due snapshot (cursor n1, pending, t0).
	due, err := store.DueInstances(t.Context(), t0.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	snapshot := due[0]

	// Worker B claims, executes and advances the instance; the cursor moves
	// to n2 and the status cycles back to pending.
	t1 := t0.Add(time.Second)

	claimed, err := store.ClaimInstance(t.Context(), snapshot.ID, snapshot.Status, snapshot.UpdatedAt, t1)
	require.NoError(t, err)
	require.True(t, claimed)

	cursor := "n2"
	require.NoError(t, store.CompleteCycle(t.Context(), snapshot.ID, models.NextState{
		CursorNodeID: &cursor,
		Status:       models.InstanceStatusPending,
		AvailableAt:  t1,
	}, t1, t1))

	// Worker A's claim from the outdated snapshot must lose, even though the
	// status matches again; executing it would re-run n1.
	claimed, err = store.ClaimInstance(t.Context(), snapshot.ID, snapshot.Status, snapshot.UpdatedAt, t1.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, claimed)

	instance, err := store.InstanceByID(t.Context(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, "n2", *instance.CursorNodeID)
}

func TestCompleteCycle_ClaimConflict(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, now))
	require.NoError(t, err)

	// Not running: the claim does not hold.
	err = store.CompleteCycle(t.Context(), "ti-1", models.NextState{
		Status:      models.InstanceStatusCompleted,
		AvailableAt: now,
	}, now, now)
	assert.True(t, persistence.IsClaimConflict(err))
}

func TestCompleteCycle_AppliesNextState(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, now.Add(-time.Second)))
	require.NoError(t, err)

	claimed, err := store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, now.Add(-time.Second), now)
	require.NoError(t, err)
	require.True(t, claimed)

	cursor := "n2"
	wake := now.Add(30 * time.Minute)

	require.NoError(t, store.CompleteCycle(t.Context(), "ti-1", models.NextState{
		CursorNodeID: &cursor,
		Status:       models.InstanceStatusWaiting,
		Attempts:     0,
		AvailableAt:  wake,
	}, now, now))

	instance, err := store.InstanceByID(t.Context(), "ti-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaiting, instance.Status)
	assert.Equal(t, "n2", *instance.CursorNodeID)
	assert.Equal(t, wake, instance.AvailableAt)
}

func TestCompleteCycle_RejectsSupersededClaim(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()
	t0 := now.Add(-10 * time.Minute)
	t1 := now.Add(-6 * time.Minute)

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusPending, t0))
	require.NoError(t, err)

	// Worker A claims at t1, then stalls long enough for the reaper to hand
	// the instance back and for worker B to claim it at now.
	claimed, err := store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, t0, t1)
	require.NoError(t, err)
	require.True(t, claimed)

	reaped, err := store.ReapStale(t.Context(), now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reaped, 1)

	instance, err := store.InstanceByID(t.Context(), "ti-1")
	require.NoError(t, err)

	claimed, err = store.ClaimInstance(t.Context(), "ti-1", models.InstanceStatusPending, instance.UpdatedAt, now)
	require.NoError(t, err)
	require.True(t, claimed)

	// A finally wakes up and reports its result. Its claim stamp no longer
	// matches, so the write must not clobber B's cycle.
	aCursor := "n2"
	err = store.CompleteCycle(t.Context(), "ti-1", models.NextState{
		CursorNodeID: &aCursor,
		Status:       models.InstanceStatusCompleted,
		AvailableAt:  t1,
	}, t1, now)
	assert.ErrorIs(t, err, persistence.ErrClaimConflict)

	bCursor := "n3"
	require.NoError(t, store.CompleteCycle(t.Context(), "ti-1", models.NextState{
		CursorNodeID: &bCursor,
		Status:       models.InstanceStatusPending,
		AvailableAt:  now,
	}, now, now))

	instance, err = store.InstanceByID(t.Context(), "ti-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, "n3", *instance.CursorNodeID)
}

func TestReapStale(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	stale := newInstance("ti-stale", "wf-1", "k1", models.InstanceStatusRunning, now.Add(-10*time.Minute))
	fresh := newInstance("ti-fresh", "wf-1", "k2", models.InstanceStatusRunning, now.Add(-time.Second))

	for _, instance := range []*models.TriggerInstance{stale, fresh} {
		_, _, err := store.CreateInstance(t.Context(), instance)
		require.NoError(t, err)
	}

	reaped, err := store.ReapStale(t.Context(), now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, "ti-stale", reaped[0].ID)

	instance, err := store.InstanceByID(t.Context(), "ti-stale")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, instance.Status)

	instance, err = store.InstanceByID(t.Context(), "ti-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
}

func TestCancelInstance(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusWaiting, now.Add(time.Hour)))
	require.NoError(t, err)

	cancelled, err := store.CancelInstance(t.Context(), "ti-1", now)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)

	// Terminal instances stay put.
	_, err = store.CancelInstance(t.Context(), "ti-1", now)
	assert.ErrorIs(t, err, persistence.ErrInstanceTerminal)
}

func TestCancelInstance_Running(t *testing.T) {
	store := NewPersistence(t.TempDir())
	now := time.Now().UTC()

	_, _, err := store.CreateInstance(t.Context(),
		newInstance("ti-1", "wf-1", "k1", models.InstanceStatusRunning, now))
	require.NoError(t, err)

	_, err = store.CancelInstance(t.Context(), "ti-1", now)
	assert.ErrorIs(t, err, persistence.ErrInstanceRunning)
}

func TestListInstances(t *testing.T) {
	store := NewPersistence(t.TempDir())
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"ti-1", "ti-2", "ti-3"} {
		instance := newInstance(id, "wf-1", id, models.InstanceStatusPending, base.Add(time.Duration(i)*time.Minute))
		_, _, err := store.CreateInstance(t.Context(), instance)
		require.NoError(t, err)
	}

	other := newInstance("ti-other", "wf-2", "x", models.InstanceStatusCompleted, base)
	_, _, err := store.CreateInstance(t.Context(), other)
	require.NoError(t, err)

	result, err := store.ListInstances(t.Context(), persistence.ListInstancesOptions{
		WorkflowID: "wf-1",
		Page:       1,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	require.Len(t, result.Instances, 2)

	// Newest first.
	assert.Equal(t, "ti-3", result.Instances[0].ID)

	status := models.InstanceStatusCompleted

	result, err = store.ListInstances(t.Context(), persistence.ListInstancesOptions{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)
}
