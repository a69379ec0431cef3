package engine

import (
	"context"
	"errors"
	"time"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/kvindex"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Claim pops up to count lowest-deadline jobs from the (group, pipeline,
// stage) created queue, transitions each to Running, and assigns worker.
// count == 0 returns an empty slice and mutates nothing (spec.md §8
// boundary property). Claims within one call return lowest-deadline-first,
// and concurrent claimers never return the same job: DeadlineQueue.Claim's
// ZPOPMIN pop and Jobs.ClaimRow's FOR-UPDATE transition each individually
// guarantee exclusivity, so the combination does too.
func (e *Engine) Claim(ctx context.Context, group, pipeline, stage, cluster, node, worker string, count int) ([]models.GenericJob, error) {
	if count <= 0 {
		return []models.GenericJob{}, nil
	}

	queue := e.kv.DeadlineQueue(group, pipeline, stage)
	now := time.Now().UTC()

	claimed := make([]models.GenericJob, 0, count)
	for len(claimed) < count {
		jobID, err := queue.Claim(ctx, now)
		if errors.Is(err, kvindex.ErrEmpty) {
			break
		}
		if err != nil {
			return claimed, apierr.Wrap(apierr.Transient, "popping deadline queue", err)
		}

		job, err := e.db.Jobs().ClaimRow(ctx, jobID, worker)
		if errors.Is(err, columnar.ErrStaleClaim) {
			// Another actor (BulkReset, a concurrent requeue) moved this
			// job before our durable claim landed; drop it and keep
			// popping rather than fail the whole call.
			continue
		}
		if errors.Is(err, columnar.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return claimed, apierr.Wrap(apierr.Transient, "claiming job row", err)
		}

		if job.Checkpoint != "" {
			job, err = e.injectCheckpoint(ctx, job)
			if err != nil {
				return claimed, err
			}
		}

		if err := e.onClaimed(ctx, job, cluster, node, worker, now); err != nil {
			return claimed, err
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// injectCheckpoint merges a re-materialized generator's stored checkpoint
// into its kwargs as --checkpoint before handing the job back to a
// worker, so the tool invoked by buildCommand resumes from where Sleep
// left off (spec.md §4.1 sleep). The updated args are persisted so Get
// and future claims see the same kwargs that were handed out here.
func (e *Engine) injectCheckpoint(ctx context.Context, job models.GenericJob) (models.GenericJob, error) {
	kwargs := make(map[string]string, len(job.Args.Kwargs)+1)
	for k, v := range job.Args.Kwargs {
		kwargs[k] = v
	}
	kwargs["--checkpoint"] = job.Checkpoint
	job.Args.Kwargs = kwargs

	if err := e.db.Jobs().UpdateArgs(ctx, job.ID, job.Args); err != nil {
		return job, apierr.Wrap(apierr.Transient, "persisting checkpoint kwarg", err)
	}
	return job, nil
}

func (e *Engine) onClaimed(ctx context.Context, job models.GenericJob, cluster, node, worker string, now time.Time) error {
	if err := e.kv.Stream("deadlines", string(job.Scaler)).Remove(ctx, job.ID); err != nil {
		return apierr.Wrap(apierr.Transient, "removing job from global deadline stream", err)
	}
	if err := e.kv.Stream("running", string(job.Scaler)).Add(ctx, job.ID, now); err != nil {
		return apierr.Wrap(apierr.Transient, "recording job in global running stream", err)
	}
	if err := e.kv.Set("running-jobs", worker).Add(ctx, job.ID); err != nil {
		return apierr.Wrap(apierr.Transient, "tracking worker's running set", err)
	}
	if err := e.kv.Hash("worker", cluster, node, worker).Set(ctx, map[string]string{
		"status":     string(models.WorkerRunning),
		"active_job": job.ID,
		"started_at": now.Format(time.RFC3339Nano),
	}); err != nil {
		return apierr.Wrap(apierr.Transient, "recording worker active job", err)
	}
	if err := e.db.Reactions().MarkRunningIfCreated(ctx, job.ReactionID); err != nil {
		return apierr.Wrap(apierr.Transient, "marking reaction running", err)
	}
	return nil
}
