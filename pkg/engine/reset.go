package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/thorium-sh/thorium/internal/apierr"
	"github.com/thorium-sh/thorium/pkg/models"
)

// BulkReset resets every Running job of a reaction (or just one of its
// stages, when stage is non-empty) back to Created at the current time,
// clearing the claiming worker and re-queueing each job onto its deadline
// queue, so jobs whose worker died without reporting a terminal status
// can be claimed again (spec.md §4.1 bulk_reset, §3 worker-leak recovery).
func (e *Engine) BulkReset(ctx context.Context, reactionID, stage string, by Requestor) ([]string, error) {
	resets, err := e.db.Jobs().BulkReset(ctx, reactionID, stage)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "bulk resetting jobs", err)
	}
	if len(resets) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(resets))
	now := time.Now().UTC()
	for _, reset := range resets {
		ids = append(ids, reset.ID)
		job, err := e.db.Jobs().Get(ctx, reset.ID)
		if err != nil {
			return ids, apierr.Wrap(apierr.Transient, "loading reset job", err)
		}
		if err := e.kv.Stream("running", string(job.Scaler)).Remove(ctx, reset.ID); err != nil {
			return ids, apierr.Wrap(apierr.Transient, "removing job from running stream", err)
		}
		if reset.PriorWorker != nil {
			if err := e.kv.Set("running-jobs", *reset.PriorWorker).Remove(ctx, reset.ID); err != nil {
				return ids, apierr.Wrap(apierr.Transient, "clearing worker running set", err)
			}
		}
		if err := e.kv.DeadlineQueue(job.Group, job.Pipeline, job.Stage).Push(ctx, reset.ID, now); err != nil {
			return ids, apierr.Wrap(apierr.Transient, "requeueing reset job", err)
		}
		if err := e.kv.Stream("deadlines", string(job.Scaler)).Add(ctx, reset.ID, now); err != nil {
			return ids, apierr.Wrap(apierr.Transient, "recording global deadline", err)
		}
	}
	e.log.Info("bulk reset", slog.String("reaction", reactionID), slog.String("stage", stage),
		slog.String("by", by.String()), slog.Int("count", len(ids)))
	return ids, nil
}

// Deadlines returns jobs of the given scaler kind whose deadline falls
// within [start, end], used by the scaler's scheduling loop to page its
// own backlog without needing columnar round trips.
func (e *Engine) Deadlines(ctx context.Context, kind models.ScalerKind, start, end time.Time, limit int64) ([]Deadline, error) {
	members, err := e.kv.Stream("deadlines", string(kind)).RangeWithScores(ctx, start, end, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "ranging global deadline stream", err)
	}
	out := make([]Deadline, 0, len(members))
	for _, m := range members {
		out = append(out, Deadline{JobID: m.Value, At: m.At.Format(time.RFC3339Nano)})
	}
	return out, nil
}
