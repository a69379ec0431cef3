package columnar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestWorkersCreateGetByNodeByStage(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Workers()

	w := models.Worker{
		Cluster: "cluster-1", Node: "node-1", Name: "worker-1",
		Scaler: models.ScalerBareMetal, Group: "research", Pipeline: "full-scan",
		Stage: "harvest", Status: models.WorkerSpawning,
	}
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.Get(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerSpawning, got.Status)
	assert.Nil(t, got.Active, "Create must not populate active/idle_since")
	assert.Nil(t, got.IdleSince)

	byNode, err := repo.ByNode(ctx, "cluster-1", "node-1")
	require.NoError(t, err)
	require.Len(t, byNode, 1)
	assert.Equal(t, "worker-1", byNode[0].Name)

	byStage, err := repo.ByStage(ctx, "research", "full-scan", "harvest")
	require.NoError(t, err)
	require.Len(t, byStage, 1)
	assert.Equal(t, "worker-1", byStage[0].Name)
}

func TestWorkersCreateOnConflictUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Workers()

	w := models.Worker{Cluster: "cluster-1", Node: "node-1", Name: "worker-1", Group: "research", Status: models.WorkerSpawning}
	require.NoError(t, repo.Create(ctx, w))

	w.Status = models.WorkerRunning
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.Get(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerRunning, got.Status, "re-Create must update status in place rather than erroring")
}

func TestWorkersSetActiveThenClearSetsIdleSince(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Workers()

	require.NoError(t, repo.Create(ctx, models.Worker{
		Cluster: "cluster-1", Node: "node-1", Name: "worker-1", Group: "research", Status: models.WorkerRunning,
	}))

	job := &models.ActiveJob{JobID: "00000000-0000-0000-0000-000000000001", StartedAt: time.Now()}
	require.NoError(t, repo.SetActive(ctx, "worker-1", job))

	got, err := repo.Get(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, got.Active)
	assert.Equal(t, job.JobID, got.Active.JobID)
	assert.Nil(t, got.IdleSince, "a worker with an active job must not carry an idle_since")

	require.NoError(t, repo.SetActive(ctx, "worker-1", nil))

	got, err = repo.Get(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, got.Active)
	require.NotNil(t, got.IdleSince)
	assert.WithinDuration(t, time.Now().UTC(), *got.IdleSince, 5*time.Second)
}

func TestWorkersGetMissingReturnsErrWorkerNotFound(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Workers()

	_, err := repo.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestWorkersDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Workers()

	require.NoError(t, repo.Create(ctx, models.Worker{Cluster: "cluster-1", Node: "node-1", Name: "worker-1", Group: "research", Status: models.WorkerRunning}))
	require.NoError(t, repo.Delete(ctx, "worker-1"))

	_, err := repo.Get(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}
