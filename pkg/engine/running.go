package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Running returns jobs of the given scaler kind claimed within
// [start, end], ascending by claim time and bounded by limit — the
// GET /jobs/bulk/running API (spec.md §6).
func (e *Engine) Running(ctx context.Context, kind models.ScalerKind, start, end time.Time, limit int64) ([]RunningJob, error) {
	members, err := e.kv.Stream("running", string(kind)).RangeWithScores(ctx, start, end, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "ranging global running stream", err)
	}
	out := make([]RunningJob, 0, len(members))
	for _, m := range members {
		job, err := e.db.Jobs().Get(ctx, m.Value)
		if errors.Is(err, columnar.ErrJobNotFound) {
			// The job completed/failed/was reset between the stream read
			// and this lookup; drop it rather than fail the whole page.
			continue
		}
		if err != nil {
			return out, apierr.Wrap(apierr.Transient, "loading running job", err)
		}
		out = append(out, RunningJob{Job: job, ClaimedAt: m.At.Format(time.RFC3339Nano)})
	}
	return out, nil
}

// ResetByID resets an explicit set of job ids regardless of which
// reaction or stage they belong to: each id currently Running is moved
// back to Created, its worker cleared, and it is re-queued on its
// deadline queue and the global deadline stream (spec.md §4.1
// bulk_reset(ids, scaler, reason), §6 POST /jobs/bulk/reset). Ids that
// are not Running are silently skipped — bulk_reset targets crashed
// workers, not a generic cancel.
func (e *Engine) ResetByID(ctx context.Context, req JobResets, by Requestor) error {
	now := time.Now().UTC()
	for _, id := range req.IDs {
		job, reset, err := e.db.Jobs().ResetIfRunning(ctx, id)
		if errors.Is(err, columnar.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return apierr.Wrap(apierr.Transient, "resetting job "+id, err)
		}
		if !reset {
			continue
		}

		if err := e.kv.Stream("running", string(job.Scaler)).Remove(ctx, id); err != nil {
			return apierr.Wrap(apierr.Transient, "removing job from running stream", err)
		}
		if job.Worker != nil {
			if err := e.kv.Set("running-jobs", *job.Worker).Remove(ctx, id); err != nil {
				return apierr.Wrap(apierr.Transient, "clearing worker running set", err)
			}
		}
		if err := e.kv.DeadlineQueue(job.Group, job.Pipeline, job.Stage).Push(ctx, id, now); err != nil {
			return apierr.Wrap(apierr.Transient, "requeueing reset job", err)
		}
		if err := e.kv.Stream("deadlines", string(job.Scaler)).Add(ctx, id, now); err != nil {
			return apierr.Wrap(apierr.Transient, "recording global deadline", err)
		}
		e.log.Info("bulk reset by id", slog.String("job", id), slog.String("reason", req.Reason),
			slog.String("by", by.String()))
	}
	return nil
}
