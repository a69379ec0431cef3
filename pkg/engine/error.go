package engine

import (
	"context"
	"errors"
	"time"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Error records a job's failure: its logs are appended, the job and its
// owning reaction both move to Failed, and every sibling job still
// outstanding in the reaction — Created or Running — is cancelled along
// with it, since a Failed reaction never proceeds any of its stages
// further. Calling Error on an already-Failed job only appends logs.
func (e *Engine) Error(ctx context.Context, jobID, reason string, logs []string) (models.JobHandleStatus, error) {
	job, err := e.db.Jobs().Get(ctx, jobID)
	if errors.Is(err, columnar.ErrJobNotFound) {
		return "", apierr.Wrap(apierr.NotFound, "job "+jobID, err)
	}
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "loading job", err)
	}

	lines := logs
	if reason != "" {
		lines = append(append([]string{}, logs...), reason)
	}
	if err := e.db.Logs().Append(ctx, jobID, lines); err != nil {
		return "", apierr.Wrap(apierr.Transient, "appending job logs", err)
	}

	if job.Status == models.JobFailed {
		return models.HandleErrored, nil
	}

	if err := e.db.Jobs().UpdateStatus(ctx, jobID, models.JobFailed); err != nil {
		return "", apierr.Wrap(apierr.Transient, "failing job", err)
	}
	if err := e.kv.Stream("running", string(job.Scaler)).Remove(ctx, jobID); err != nil {
		return "", apierr.Wrap(apierr.Transient, "removing job from running stream", err)
	}
	if job.Worker != nil {
		if err := e.kv.Set("running-jobs", *job.Worker).Remove(ctx, jobID); err != nil {
			return "", apierr.Wrap(apierr.Transient, "clearing worker running set", err)
		}
	}
	if err := e.kv.DeadlineQueue(job.Group, job.Pipeline, job.Stage).Remove(ctx, jobID); err != nil {
		return "", apierr.Wrap(apierr.Transient, "removing job from deadline queue", err)
	}
	if err := e.kv.Stream("deadlines", string(job.Scaler)).Remove(ctx, jobID); err != nil {
		return "", apierr.Wrap(apierr.Transient, "removing job from global deadline stream", err)
	}

	if err := e.db.Reactions().UpdateStatus(ctx, job.ReactionID, models.ReactionFailed); err != nil {
		return "", apierr.Wrap(apierr.Transient, "failing reaction", err)
	}
	if err := e.cancelSiblings(ctx, job); err != nil {
		return "", err
	}
	return models.HandleErrored, nil
}

// cancelSiblings fails every other job of failed's reaction that hasn't
// already reached a terminal status, pulling Created jobs off their
// deadline queues and Running jobs out of the running stream/worker set
// so a failed reaction doesn't leave orphaned work behind it.
func (e *Engine) cancelSiblings(ctx context.Context, failed models.GenericJob) error {
	siblings, err := e.db.Jobs().ByReaction(ctx, failed.ReactionID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "loading sibling jobs", err)
	}
	for _, sibling := range siblings {
		if sibling.ID == failed.ID {
			continue
		}
		switch sibling.Status {
		case models.JobCreated:
			if err := e.kv.DeadlineQueue(sibling.Group, sibling.Pipeline, sibling.Stage).Remove(ctx, sibling.ID); err != nil {
				return apierr.Wrap(apierr.Transient, "removing sibling from deadline queue", err)
			}
			if err := e.kv.Stream("deadlines", string(sibling.Scaler)).Remove(ctx, sibling.ID); err != nil {
				return apierr.Wrap(apierr.Transient, "removing sibling from global deadline stream", err)
			}
		case models.JobRunning:
			if err := e.kv.Stream("running", string(sibling.Scaler)).Remove(ctx, sibling.ID); err != nil {
				return apierr.Wrap(apierr.Transient, "removing sibling from running stream", err)
			}
			if sibling.Worker != nil {
				if err := e.kv.Set("running-jobs", *sibling.Worker).Remove(ctx, sibling.ID); err != nil {
					return apierr.Wrap(apierr.Transient, "clearing sibling worker running set", err)
				}
			}
		default:
			continue
		}
		if err := e.db.Jobs().UpdateStatus(ctx, sibling.ID, models.JobFailed); err != nil {
			return apierr.Wrap(apierr.Transient, "failing sibling job", err)
		}
	}
	return nil
}

// Sleep is called by a generator job instead of proceed(): it persists a
// checkpoint, reschedules the job's deadline, and moves it to Sleeping so
// it falls out of the running stream without closing out its stage. The
// same job row is reclaimed straight from Sleeping back to Running once
// its new deadline is popped by Claim — ClaimRow accepts either starting
// status — carrying its checkpoint forward via the agent's resume path.
func (e *Engine) Sleep(ctx context.Context, jobID, checkpoint string, resumeAfter time.Duration, logs []string) (models.JobHandleStatus, error) {
	job, err := e.db.Jobs().Get(ctx, jobID)
	if errors.Is(err, columnar.ErrJobNotFound) {
		return "", apierr.Wrap(apierr.NotFound, "job "+jobID, err)
	}
	if err != nil {
		return "", apierr.Wrap(apierr.Transient, "loading job", err)
	}
	if !job.Generator {
		return "", apierr.New(apierr.BadRequest, "only generator jobs may sleep")
	}
	if job.Status != models.JobRunning {
		return "", apierr.New(apierr.Conflict, "job is not running")
	}

	if err := e.db.Logs().Append(ctx, jobID, logs); err != nil {
		return "", apierr.Wrap(apierr.Transient, "appending job logs", err)
	}
	if err := e.db.Jobs().SetCheckpoint(ctx, jobID, checkpoint); err != nil {
		return "", apierr.Wrap(apierr.Transient, "setting checkpoint", err)
	}

	deadline := time.Now().UTC().Add(resumeAfter)
	if err := e.db.Jobs().SetDeadline(ctx, jobID, deadline); err != nil {
		return "", apierr.Wrap(apierr.Transient, "rescheduling job deadline", err)
	}
	if err := e.db.Jobs().UpdateStatus(ctx, jobID, models.JobSleeping); err != nil {
		return "", apierr.Wrap(apierr.Transient, "sleeping job", err)
	}
	if err := e.db.Jobs().ClearWorker(ctx, jobID); err != nil {
		return "", apierr.Wrap(apierr.Transient, "clearing job worker", err)
	}

	if err := e.kv.Stream("running", string(job.Scaler)).Remove(ctx, jobID); err != nil {
		return "", apierr.Wrap(apierr.Transient, "removing job from running stream", err)
	}
	if job.Worker != nil {
		if err := e.kv.Set("running-jobs", *job.Worker).Remove(ctx, jobID); err != nil {
			return "", apierr.Wrap(apierr.Transient, "clearing worker running set", err)
		}
	}
	if err := e.kv.DeadlineQueue(job.Group, job.Pipeline, job.Stage).Push(ctx, jobID, deadline); err != nil {
		return "", apierr.Wrap(apierr.Transient, "requeueing sleeping job", err)
	}
	if err := e.kv.Stream("deadlines", string(job.Scaler)).Add(ctx, jobID, deadline); err != nil {
		return "", apierr.Wrap(apierr.Transient, "recording global deadline", err)
	}
	return models.HandleSleeping, nil
}

// AddLogs appends one mid-stage log batch for a still-running job without
// touching its status, the op the agent's monitor() cycle calls once per
// shipment (spec.md §4.4); the final transcript also includes whatever
// proceed()/error() append on top.
func (e *Engine) AddLogs(ctx context.Context, jobID string, logs []string) error {
	if len(logs) == 0 {
		return nil
	}
	if err := e.db.Logs().Append(ctx, jobID, logs); err != nil {
		return apierr.Wrap(apierr.Transient, "appending job logs", err)
	}
	return nil
}

// Checkpoint persists a running job's checkpoint blob without changing its
// status, used for periodic progress saves between sleeps.
func (e *Engine) Checkpoint(ctx context.Context, jobID, checkpoint string) (models.JobHandleStatus, error) {
	if err := e.db.Jobs().SetCheckpoint(ctx, jobID, checkpoint); err != nil {
		return "", apierr.Wrap(apierr.Transient, "setting checkpoint", err)
	}
	return models.HandleCheckpointed, nil
}
