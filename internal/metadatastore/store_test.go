package metadatastore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denghuinow/kg-api-server/internal/kgtypes"
)

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, CompareVersions("9", "10"))
	assert.Equal(t, 1, CompareVersions("1700000000500", "1700000000001"))
	assert.Equal(t, 0, CompareVersions("1700000000001", "1700000000001"))
}

func TestTryAcquire_SingleWriter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wins := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.TryAcquire(ctx, kgtypes.StatusBuilding, "task", kgtypes.TaskFullBuild, "v1", nil)
			wins[i] = err == nil
		}(i)
	}
	wg.Wait()

	winCount := 0
	for _, w := range wins {
		if w {
			winCount++
		}
	}
	assert.Equal(t, 1, winCount, "exactly one concurrent TryAcquire should succeed (P1)")
}

func TestTryAcquire_RejectsWhileBuilding(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _, err := store.TryAcquire(ctx, kgtypes.StatusBuilding, "t1", kgtypes.TaskFullBuild, "v1", nil)
	require.NoError(t, err)

	state, task, err := store.TryAcquire(ctx, kgtypes.StatusBuilding, "t2", kgtypes.TaskFullBuild, "v2", nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Nil(t, task)
	assert.Equal(t, kgtypes.StatusBuilding, state.Status)
}

func TestCommitSuccess_AdvancesLatestReadyVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _, err := store.TryAcquire(ctx, kgtypes.StatusBuilding, "t1", kgtypes.TaskFullBuild, "v1", nil)
	require.NoError(t, err)

	require.NoError(t, store.CommitSuccess(ctx, "t1", "v1"))

	state, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusReady, state.Status)
	require.NotNil(t, state.LatestReadyVersion)
	assert.Equal(t, "v1", *state.LatestReadyVersion)
	assert.Nil(t, state.CurrentTaskID)
}

func TestCommitFailure_LeavesLatestReadyVersionUntouched(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _, err := store.TryAcquire(ctx, kgtypes.StatusBuilding, "t1", kgtypes.TaskFullBuild, "v1", nil)
	require.NoError(t, err)
	require.NoError(t, store.CommitSuccess(ctx, "t1", "v1"))

	before, err := store.Read(ctx)
	require.NoError(t, err)

	_, _, err = store.TryAcquire(ctx, kgtypes.StatusUpdating, "t2", kgtypes.TaskIncrementalUpdate, "v2", before.LatestReadyVersion)
	require.NoError(t, err)
	require.NoError(t, store.CommitFailure(ctx, "t2", "boom"))

	after, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusFailed, after.Status)
	assert.Equal(t, *before.LatestReadyVersion, *after.LatestReadyVersion, "P4: no half state")
}

func TestCommitSuccess_StaleTaskIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.CommitSuccess(ctx, "never-acquired", "v1")
	assert.ErrorIs(t, err, ErrStaleTask)
}

func TestRecoverOnStartup_FailsInFlightTask(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, task, err := store.TryAcquire(ctx, kgtypes.StatusBuilding, "t1", kgtypes.TaskFullBuild, "v1", nil)
	require.NoError(t, err)

	require.NoError(t, store.RecoverOnStartup(ctx))

	state, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusFailed, state.Status)
	assert.Nil(t, state.CurrentTaskID)

	got, err := store.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "server restarted", got.Error)

	// P6: a subsequent trigger succeeds.
	_, _, err = store.TryAcquire(ctx, kgtypes.StatusBuilding, "t2", kgtypes.TaskFullBuild, "v2", nil)
	assert.NoError(t, err)
}

func TestRecoverOnStartup_NoOpWhenIdle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.RecoverOnStartup(ctx))

	state, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, kgtypes.StatusIdle, state.Status)
}
