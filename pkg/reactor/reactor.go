package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Reactor runs one node's worker lifecycle: it recovers workers that
// survived a reactor restart, launches newly-spawned ones, detects dead
// or leaked ones, and tears them down (spec.md §4.3). It reads
// columnar.Workers/Jobs/Catalog directly rather than through pkg/client,
// for the same reason pkg/scaler does: none of those are part of spec.md
// §6's stable HTTP contract.
type Reactor struct {
	cluster string
	node    string

	launcher Launcher
	workers  *columnar.Workers
	jobs     *columnar.Jobs
	catalog  *columnar.Catalog

	leakGrace time.Duration
	log       *slog.Logger
}

// New builds a Reactor bound to one (cluster, node).
func New(cluster, node string, launcher Launcher, db *columnar.Client, leakGrace time.Duration) *Reactor {
	return &Reactor{
		cluster:   cluster,
		node:      node,
		launcher:  launcher,
		workers:   db.Workers(),
		jobs:      db.Jobs(),
		catalog:   db.Catalog(),
		leakGrace: leakGrace,
		log:       slog.With("component", "reactor", "cluster", cluster, "node", node),
	}
}

// Run ties one startup recovery sweep to a periodic Tick loop until ctx is
// cancelled, matching the teacher's pkg/queue/worker.go run/sleep shape.
func (r *Reactor) Run(ctx context.Context, interval time.Duration) error {
	if err := r.recover(ctx); err != nil {
		return fmt.Errorf("reactor: startup recovery: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.log.Error("tick failed", slog.Any("error", err))
			}
		}
	}
}

// recover re-attaches to any worker the node's cgroups show as still
// alive from before a reactor restart (spec.md §4.3 "for every worker the
// API says should exist on this node").
func (r *Reactor) recover(ctx context.Context) error {
	workers, err := r.workers.ByNode(ctx, r.cluster, r.node)
	if err != nil {
		return fmt.Errorf("listing workers for recovery: %w", err)
	}
	for _, w := range workers {
		if r.launcher.Recover(w.Name) {
			r.log.Info("recovered worker from prior run", slog.String("worker", w.Name))
		}
	}
	return nil
}

// Tick runs one pass: launch workers the scaler has newly created,
// reclaim workers whose process tree has died, and retire leaked idle
// workers.
func (r *Reactor) Tick(ctx context.Context) error {
	workers, err := r.workers.ByNode(ctx, r.cluster, r.node)
	if err != nil {
		return fmt.Errorf("listing workers: %w", err)
	}

	now := time.Now()
	for _, w := range workers {
		switch {
		case r.launcher.Alive(w.Name):
			if w.Leaked(now, r.leakGrace) {
				r.retire(ctx, w, "idle past leak grace with no replacement job")
			}
		case w.Status == models.WorkerSpawning:
			if err := r.launch(ctx, w); err != nil {
				r.log.Error("launch failed", slog.String("worker", w.Name), slog.Any("error", err))
			}
		default:
			// Process tree is gone and this worker was never recovered: it
			// crashed or exited without the agent reporting a terminal
			// status. Reset whatever job it still held and tear it down.
			r.retire(ctx, w, "process tree no longer present")
		}
	}
	return nil
}

func (r *Reactor) launch(ctx context.Context, w models.Worker) error {
	if w.Active == nil {
		return fmt.Errorf("worker %s is Spawning with no active job assigned yet", w.Name)
	}
	job, err := r.jobs.Get(ctx, w.Active.JobID)
	if err != nil {
		return fmt.Errorf("loading job %s for worker %s: %w", w.Active.JobID, w.Name, err)
	}
	image, err := r.catalog.GetImage(ctx, job.Group, job.Image)
	if err != nil {
		return fmt.Errorf("loading image %s/%s for worker %s: %w", job.Group, job.Image, w.Name, err)
	}
	if err := r.launcher.Launch(ctx, w, image, job.ID); err != nil {
		return err
	}
	if err := r.workers.Create(ctx, withStatus(w, models.WorkerRunning)); err != nil {
		return fmt.Errorf("marking worker %s running: %w", w.Name, err)
	}
	r.log.Info("launched worker", slog.String("worker", w.Name), slog.String("job_id", job.ID))
	return nil
}

// retire kills a worker's process tree (if any), resets its in-flight job
// back to Created so another worker can claim it, runs the image's
// cleanup script, and deletes the worker's desired-state row.
func (r *Reactor) retire(ctx context.Context, w models.Worker, reason string) {
	if err := r.launcher.Kill(ctx, w.Name); err != nil {
		r.log.Error("kill failed", slog.String("worker", w.Name), slog.Any("error", err))
	}

	var jobID string
	if w.Active != nil {
		jobID = w.Active.JobID
		job, err := r.jobs.Get(ctx, jobID)
		if err != nil {
			r.log.Error("loading job for retired worker", slog.String("worker", w.Name), slog.String("job_id", jobID), slog.Any("error", err))
		} else {
			if _, reset, err := r.jobs.ResetIfRunning(ctx, jobID); err != nil {
				r.log.Error("resetting job for retired worker", slog.String("worker", w.Name), slog.String("job_id", jobID), slog.Any("error", err))
			} else if reset {
				r.log.Warn("reset in-flight job for retired worker", slog.String("worker", w.Name), slog.String("job_id", jobID), slog.String("reason", reason))
			}
			if image, err := r.catalog.GetImage(ctx, job.Group, job.Image); err != nil {
				r.log.Error("loading image for retired worker cleanup", slog.String("worker", w.Name), slog.Any("error", err))
			} else if err := r.launcher.Cleanup(ctx, w, image, jobID); err != nil {
				r.log.Error("cleanup failed", slog.String("worker", w.Name), slog.Any("error", err))
			}
		}
	}

	if err := r.workers.Delete(ctx, w.Name); err != nil {
		r.log.Error("deleting retired worker row", slog.String("worker", w.Name), slog.Any("error", err))
	}
	r.log.Info("retired worker", slog.String("worker", w.Name), slog.String("reason", reason))
}

func withStatus(w models.Worker, status models.WorkerStatus) models.Worker {
	w.Status = status
	return w
}
