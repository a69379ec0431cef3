package columnar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/models"
)

func seedReaction(t *testing.T, client *Client, reactionID string, jobIDs ...string) {
	t.Helper()
	require.NoError(t, client.Reactions().Create(context.Background(), models.Reaction{
		ID: reactionID, Group: "research", Pipeline: "full-scan", Creator: "alice",
		Status: models.ReactionRunning, Jobs: jobIDs,
	}))
}

func TestJobsCreateGet(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Jobs()

	const reactionID = "00000000-0000-0000-0000-000000000201"
	const jobID = "00000000-0000-0000-0000-000000000001"
	seedReaction(t, client, reactionID, jobID)

	deadline := time.Now().Add(time.Hour)
	job := models.GenericJob{
		ID: jobID, ReactionID: reactionID, Group: "research", Pipeline: "full-scan",
		Stage: "harvest", Image: "harvest", Creator: "alice", Status: models.JobCreated,
		Deadline: deadline, Scaler: models.ScalerBareMetal,
		Args: models.JobArgs{Positionals: []string{"--verbose"}},
	}
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCreated, got.Status)
	assert.Equal(t, []string{"--verbose"}, got.Args.Positionals)
	assert.WithinDuration(t, deadline, got.Deadline, time.Second)
}

func TestJobsGetMissingReturnsErrJobNotFound(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	_, err := client.Jobs().Get(ctx, "00000000-0000-0000-0000-000000000099")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobsClaimRowMovesCreatedToRunning(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Jobs()

	const reactionID = "00000000-0000-0000-0000-000000000202"
	const jobID = "00000000-0000-0000-0000-000000000002"
	seedReaction(t, client, reactionID, jobID)
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: jobID, ReactionID: reactionID, Group: "research", Image: "harvest",
		Status: models.JobCreated, Deadline: time.Now(),
	}))

	claimed, err := repo.ClaimRow(ctx, jobID, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, claimed.Status)
	require.NotNil(t, claimed.Worker)
	assert.Equal(t, "worker-1", *claimed.Worker)

	got, err := repo.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, got.Status)
}

func TestJobsClaimRowRejectsAlreadyRunningJob(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Jobs()

	const reactionID = "00000000-0000-0000-0000-000000000203"
	const jobID = "00000000-0000-0000-0000-000000000003"
	seedReaction(t, client, reactionID, jobID)
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: jobID, ReactionID: reactionID, Group: "research", Image: "harvest",
		Status: models.JobRunning, Deadline: time.Now(),
	}))

	_, err := repo.ClaimRow(ctx, jobID, "worker-2")
	assert.ErrorIs(t, err, ErrStaleClaim)
}

func TestJobsResetIfRunningResetsAndIsNoopOtherwise(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Jobs()

	const reactionID = "00000000-0000-0000-0000-000000000204"
	const jobID = "00000000-0000-0000-0000-000000000004"
	worker := "worker-3"
	seedReaction(t, client, reactionID, jobID)
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: jobID, ReactionID: reactionID, Group: "research", Image: "harvest",
		Status: models.JobRunning, Worker: &worker, Deadline: time.Now(),
	}))

	reset, didReset, err := repo.ResetIfRunning(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, didReset)
	assert.Equal(t, models.JobCreated, reset.Status)
	assert.Nil(t, reset.Worker)

	reset, didReset, err = repo.ResetIfRunning(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, didReset, "a job that's already Created must not be reset again")
	assert.Equal(t, models.JobCreated, reset.Status)
}

func TestJobsBulkResetScopesByReactionAndOptionalStage(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Jobs()

	const reactionID = "00000000-0000-0000-0000-000000000205"
	harvestID := "00000000-0000-0000-0000-000000000005"
	triageID := "00000000-0000-0000-0000-000000000006"
	seedReaction(t, client, reactionID, harvestID, triageID)

	worker := "worker-5"
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: harvestID, ReactionID: reactionID, Group: "research", Stage: "harvest",
		Image: "harvest", Status: models.JobRunning, Worker: &worker, Deadline: time.Now(),
	}))
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: triageID, ReactionID: reactionID, Group: "research", Stage: "triage",
		Image: "triage", Status: models.JobRunning, Deadline: time.Now(),
	}))

	reset, err := repo.BulkReset(ctx, reactionID, "harvest")
	require.NoError(t, err)
	require.Len(t, reset, 1, "stage-scoped reset must leave the other stage's job untouched")
	assert.Equal(t, harvestID, reset[0].ID)
	require.NotNil(t, reset[0].PriorWorker, "prior worker must survive the reset that nulls it")
	assert.Equal(t, worker, *reset[0].PriorWorker)

	triage, err := repo.Get(ctx, triageID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, triage.Status)

	reset, err = repo.BulkReset(ctx, reactionID, "")
	require.NoError(t, err)
	require.Len(t, reset, 1, "empty stage resets every Running job left in the reaction")
	assert.Equal(t, triageID, reset[0].ID)
	assert.Nil(t, reset[0].PriorWorker, "triage job was never assigned a worker")
}

func TestJobsByReactionByReactionStageByWorker(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Jobs()

	const reactionID = "00000000-0000-0000-0000-000000000206"
	harvestID := "00000000-0000-0000-0000-000000000007"
	triageID := "00000000-0000-0000-0000-000000000008"
	seedReaction(t, client, reactionID, harvestID, triageID)

	worker := "worker-4"
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: harvestID, ReactionID: reactionID, Group: "research", Stage: "harvest",
		Image: "harvest", Status: models.JobRunning, Worker: &worker, Deadline: time.Now(),
	}))
	require.NoError(t, repo.Create(ctx, models.GenericJob{
		ID: triageID, ReactionID: reactionID, Group: "research", Stage: "triage",
		Image: "triage", Status: models.JobCreated, Deadline: time.Now(),
	}))

	byReaction, err := repo.ByReaction(ctx, reactionID)
	require.NoError(t, err)
	assert.Len(t, byReaction, 2)

	byStage, err := repo.ByReactionStage(ctx, reactionID, "harvest")
	require.NoError(t, err)
	require.Len(t, byStage, 1)
	assert.Equal(t, harvestID, byStage[0].ID)

	byWorker, err := repo.ByWorker(ctx, "worker-4")
	require.NoError(t, err)
	require.Len(t, byWorker, 1)
	assert.Equal(t, harvestID, byWorker[0].ID)
}
