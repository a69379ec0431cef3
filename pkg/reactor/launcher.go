package reactor

import (
	"context"

	"github.com/thorium-sh/thorium/pkg/models"
)

// Launcher spawns and supervises workers for one scaler kind's process
// model. BareMetal is the only implementation the Go port ships (K8s pods
// are the scheduler's job, not a launcher's; Windows/Kvm/External are
// Non-goals per spec.md), but the interface is kept so a future launcher
// doesn't have to touch Reactor's loop.
type Launcher interface {
	// Launch starts a worker's process tree for the given job and image.
	Launch(ctx context.Context, worker models.Worker, image models.Image, jobID string) error
	// Alive reports whether a worker's process tree is still running.
	Alive(name string) bool
	// Recover re-attaches to a worker whose process tree may already exist
	// from before the reactor restarted, returning true if anything was
	// found to recover.
	Recover(name string) bool
	// Kill forcibly terminates a worker's process tree.
	Kill(ctx context.Context, name string) error
	// Cleanup runs an image's optional cleanup script after a worker's job
	// ends, then purges the worker's isolated dependency/output paths.
	Cleanup(ctx context.Context, worker models.Worker, image models.Image, jobID string) error
}
