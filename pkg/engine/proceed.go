package engine

import (
	"context"
	"errors"
	"time"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Proceed records a job's stage logs and runtime, transitions it to
// Completed, and — if it was the last job of the reaction's current
// stage — advances the reaction's stage cursor and materializes the
// next stage, or marks the reaction Completed if none remain. Calling
// Proceed twice on the same job is a no-op on job/reaction status past
// the first call, though logs are appended both times (spec.md §4.1
// proceed() idempotence note); a job whose reaction already failed
// still gets its logs and runtime recorded.
func (e *Engine) Proceed(ctx context.Context, jobID string, logs []string, runtimeSeconds float64) (models.JobHandleStatus, error) {
	job, err := e.db.Jobs().Get(ctx, jobID)
	if errors.Is(err, columnar.ErrJobNotFound) {
		return "", apierr.Wrap(apierr.NotFound, "job "+jobID, err)
	}
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "loading job", err)
	}

	if err := e.db.Logs().Append(ctx, jobID, logs); err != nil {
		return "", apierr.Wrap(apierr.Transient, "appending job logs", err)
	}
	if err := e.db.Catalog().RecordRuntime(ctx, job.Group, job.Image, runtimeSeconds); err != nil {
		return "", apierr.Wrap(apierr.Transient, "recording image runtime", err)
	}

	if job.Status == models.JobCompleted {
		return models.HandleCompleted, nil
	}
	if job.Status != models.JobRunning {
		return "", apierr.New(apierr.Conflict, "job is not running")
	}

	if err := e.db.Jobs().UpdateStatus(ctx, jobID, models.JobCompleted); err != nil {
		return "", apierr.Wrap(apierr.Transient, "completing job", err)
	}
	now := time.Now().UTC()
	if err := e.kv.Stream("running", string(job.Scaler)).Remove(ctx, jobID); err != nil {
		return "", apierr.Wrap(apierr.Transient, "removing job from running stream", err)
	}
	if job.Worker != nil {
		if err := e.kv.Set("running-jobs", *job.Worker).Remove(ctx, jobID); err != nil {
			return "", apierr.Wrap(apierr.Transient, "clearing worker running set", err)
		}
	}

	reaction, err := e.db.Reactions().Get(ctx, job.ReactionID)
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "loading reaction", err)
	}
	if reaction.Status == models.ReactionFailed {
		// A sibling job already failed the reaction; this job's own
		// completion is recorded but doesn't resurrect the reaction.
		return models.HandleCompleted, nil
	}

	stageJobs, err := e.db.Jobs().ByReactionStage(ctx, job.ReactionID, job.Stage)
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "listing stage jobs", err)
	}
	if !stageComplete(stageJobs) {
		return models.HandleWaiting, nil
	}

	pipeline, err := e.db.Catalog().GetPipeline(ctx, reaction.Group, reaction.Pipeline)
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "loading pipeline", err)
	}

	before, err := e.db.Reactions().AdvanceStage(ctx, job.ReactionID)
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "advancing reaction stage", err)
	}
	nextIdx := before.StageCursor + 1
	if nextIdx >= len(pipeline.Order) {
		if err := e.db.Reactions().UpdateStatus(ctx, job.ReactionID, models.ReactionCompleted); err != nil {
			return "", apierr.Wrap(apierr.Transient, "completing reaction", err)
		}
		return models.HandleCompleted, nil
	}

	next := before
	jobs, err := e.materializeStage(ctx, &next, pipeline, nextIdx, now, effectiveSLA(pipeline))
	if err != nil {
		return "", err
	}
	if err := e.db.Reactions().AppendJobs(ctx, job.ReactionID, jobIDs(jobs)); err != nil {
		return "", apierr.Wrap(apierr.Transient, "recording next stage jobs", err)
	}
	for _, j := range jobs {
		if err := e.insertJob(ctx, j); err != nil {
			return "", err
		}
	}
	return models.HandleProceeding, nil
}

// stageComplete reports whether every job in a stage has reached a
// terminal, non-failing status. A Failed sibling fails the whole
// reaction elsewhere (Error), so it never reaches this check still
// sitting in Running/Created.
func stageComplete(jobs []models.GenericJob) bool {
	for _, j := range jobs {
		if j.Status != models.JobCompleted {
			return false
		}
	}
	return true
}

func effectiveSLA(p models.Pipeline) int64 {
	if p.SLASeconds <= 0 {
		return models.DefaultSLASeconds
	}
	return p.SLASeconds
}
