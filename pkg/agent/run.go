package agent

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Target identifies which (group, pipeline, stage) this worker claims jobs
// for, mirroring the --cluster/--group/--pipeline/--stage/--name arguments
// the reactor spawns an agent binary with (spec.md §4.3 "Spawn").
type Target struct {
	Group    string
	Pipeline string
	Stage    string
	Cluster  string
	Node     string
	Worker   string
}

// NewExecutor builds the capability record one job should run under. The
// reactor tells the agent which scaler kind it's running as via its own
// launch argument (spec.md's "bare-metal" / "k8s" / "kvm" subcommand);
// cmd/agent picks the matching constructor and passes it here. An error
// here (e.g. can't dial the Docker/libvirt daemon) fails just the one job,
// not the whole worker.
type NewExecutor func(cfg config.AgentConfig, thorium *client.Client, image models.Image, jobID string) (Executor, error)

// Runner drives an agent process's poll-claim-execute loop, generalizing
// pkg/queue/worker.go's pollAndProcess/sleep shape from an in-process
// goroutine pool claiming DB rows onto a standalone binary claiming jobs
// over HTTP, retiring once its image's Lifetime says to (spec.md's
// "lifetime (counted / timed / unlimited)"). A worker only ever runs one
// image (one group/pipeline/stage claim target), so the lifetime it
// enforces is whichever image the first claimed job names.
type Runner struct {
	cfg         config.AgentConfig
	thorium     *client.Client
	target      Target
	newExecutor NewExecutor
	log         *slog.Logger

	started  time.Time
	jobsRun  int
	lifetime *models.Lifetime
}

// NewRunner builds a Runner for one worker.
func NewRunner(cfg config.AgentConfig, thorium *client.Client, target Target, newExecutor NewExecutor) *Runner {
	return &Runner{
		cfg:         cfg,
		thorium:     thorium,
		target:      target,
		newExecutor: newExecutor,
		log:         slog.With("component", "agent", "worker", target.Worker),
	}
}

// Run claims and executes jobs until ctx is cancelled or this worker's
// image lifetime expires.
func (r *Runner) Run(ctx context.Context) {
	r.started = time.Now()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutting down")
			return
		default:
		}

		jobs, err := r.thorium.Claim(ctx, r.target.Group, r.target.Pipeline, r.target.Stage,
			r.target.Cluster, r.target.Node, r.target.Worker, 1)
		if err != nil {
			r.log.Error("failed to claim job", slog.Any("error", err))
			r.sleep(ctx, r.cfg.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			r.sleep(ctx, r.cfg.PollInterval)
			continue
		}

		job := jobs[0]
		r.runJob(ctx, job)
		if r.expired() {
			r.log.Info("worker lifetime reached, retiring")
			return
		}
	}
}

// runJob fetches a claimed job's image and runs it to completion, reporting
// an API error directly (rather than crashing the worker) if the image
// itself can't be loaded.
func (r *Runner) runJob(ctx context.Context, job models.GenericJob) {
	image, err := r.thorium.GetImage(ctx, job.Group, job.Image)
	if err != nil {
		r.log.Error("failed to load image", slog.String("image", job.Image), slog.Any("error", err))
		if _, err := r.thorium.Error(ctx, job.ID, "failed to load image "+job.Image, nil); err != nil {
			r.log.Error("failed to report image load failure", slog.Any("error", err))
		}
		return
	}
	r.lifetime = &image.Lifetime

	executor, err := r.newExecutor(r.cfg, r.thorium, image, job.ID)
	if err != nil {
		r.log.Error("failed to build executor", slog.Any("error", err))
		if _, err := r.thorium.Error(ctx, job.ID, "failed to start executor: "+err.Error(), nil); err != nil {
			r.log.Error("failed to report executor failure", slog.Any("error", err))
		}
		return
	}
	logPath := filepath.Join(r.cfg.BaseDir, job.ID, "job.log")
	NewAgent(r.cfg, r.thorium, image, job, executor).Run(ctx, logPath)
	r.jobsRun++
}

// expired reports whether this worker's lifetime has been exhausted. An
// image load failure leaves r.lifetime nil, in which case the worker keeps
// polling rather than retiring on a job it never actually ran.
func (r *Runner) expired() bool {
	if r.lifetime == nil {
		return false
	}
	switch r.lifetime.Kind {
	case models.LifetimeCounted:
		return r.jobsRun >= r.lifetime.Count
	case models.LifetimeTimed:
		return time.Since(r.started) >= time.Duration(r.lifetime.Timed)*time.Second
	default:
		return false
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// BareMetalNewExecutor, DockerNewExecutor, and KvmNewExecutor adapt each
// executor's constructor to the NewExecutor shape so cmd/agent can pick one
// per its own --scaler flag without each executor needing to know about
// the others' construction quirks (Docker/Kvm can fail to dial their
// daemon; BareMetal can't fail).
func BareMetalNewExecutor(cfg config.AgentConfig, thorium *client.Client, image models.Image, jobID string) (Executor, error) {
	return NewBareMetalExecutor(cfg, thorium, image, jobID), nil
}

func DockerNewExecutor(cfg config.AgentConfig, thorium *client.Client, image models.Image, jobID string) (Executor, error) {
	return NewDockerExecutor(cfg, thorium, image, jobID)
}

func KvmNewExecutor(cfg config.AgentConfig, thorium *client.Client, image models.Image, jobID string) (Executor, error) {
	return NewKvmExecutor(cfg, thorium, image, jobID), nil
}
