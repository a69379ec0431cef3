package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/thorium-sh/thorium/pkg/models"
)

// isolate rewrites a shared dependency/output path into one scoped to a
// single job id, following original_source/reactor/src/libs/launchers/
// bare_metal.rs's isolate(): the default "/tmp/thorium" base gets the job
// id appended directly, while a path with its own file/dir name gets the
// job id inserted just before the final path segment so two jobs never
// collide in a shared directory.
func isolate(raw, jobID string) string {
	if raw == "" {
		return ""
	}
	if filepath.Clean(raw) == "/tmp/thorium" {
		return filepath.Join(raw, jobID)
	}
	parent, name := filepath.Split(raw)
	return filepath.Join(parent, jobID, name)
}

// purgePath removes the job-scoped directory an already-isolated path
// lives under, mirroring the original's purge_parent! macro: a path
// isolated directly under /tmp/thorium is removed whole, otherwise only
// its immediate <jobID> parent directory is removed, leaving the rest of
// the shared path tree untouched.
func purgePath(isolated string) error {
	if isolated == "" {
		return nil
	}
	target := filepath.Dir(isolated)
	if target == "/tmp/thorium" {
		target = isolated
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("reactor: purging %s: %w", target, err)
	}
	return nil
}

// BareMetalConfig configures how the launcher spawns the agent binary.
type BareMetalConfig struct {
	Cluster     string
	Node        string
	AgentBinary string
	APIAddr     string
	// Token is read fresh on every launch, so a changed value takes effect
	// for the next worker without a restart. The reactor has no refresh
	// loop of its own; cmd/reactor rereads THORIUM_API_TOKEN each call.
	Token func() string
}

type activeWorker struct {
	cg  *cgroup
	cmd *exec.Cmd
}

// BareMetal launches workers as plain child processes isolated in cgroup
// v2 controllers, grounded on original_source/reactor/src/libs/launchers/
// bare_metal.rs's ActiveWorker/BareMetal pair.
type BareMetal struct {
	cfg BareMetalConfig
	log *slog.Logger

	mu     sync.Mutex
	active map[string]*activeWorker
}

// NewBareMetal builds a BareMetal launcher for one node.
func NewBareMetal(cfg BareMetalConfig) *BareMetal {
	return &BareMetal{
		cfg:    cfg,
		active: make(map[string]*activeWorker),
		log:    slog.With("component", "reactor", "launcher", "bare_metal", "node", cfg.Node),
	}
}

func (b *BareMetal) Launch(ctx context.Context, worker models.Worker, image models.Image, jobID string) error {
	cg, err := newCgroup(worker.Name, image.Resources)
	if err != nil {
		return err
	}

	args := []string{
		"--cluster", b.cfg.Cluster,
		"--group", worker.Group,
		"--pipeline", worker.Pipeline,
		"--stage", worker.Stage,
		"--name", worker.Name,
		"--api-addr", b.cfg.APIAddr,
		"bare-metal",
	}
	cmd := exec.CommandContext(ctx, b.cfg.AgentBinary, args...)
	cmd.Env = append(os.Environ(), "THORIUM_API_TOKEN="+b.cfg.Token())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("reactor: spawning agent for worker %s: %w", worker.Name, err)
	}
	if cmd.Process != nil {
		if err := cg.add(cmd.Process.Pid); err != nil {
			b.log.Error("failed to add agent pid to cgroup", slog.String("worker", worker.Name), slog.Any("error", err))
		}
	}

	b.mu.Lock()
	b.active[worker.Name] = &activeWorker{cg: cg, cmd: cmd}
	b.mu.Unlock()
	return nil
}

func (b *BareMetal) Alive(name string) bool {
	b.mu.Lock()
	aw, ok := b.active[name]
	b.mu.Unlock()
	if !ok {
		return false
	}
	if aw.cmd != nil && aw.cmd.ProcessState != nil {
		return false
	}
	return processRunning(aw.cg.procs())
}

// Recover re-attaches to a worker's cgroup after a reactor restart,
// confirming liveness through gopsutil rather than trusting cgroup.procs
// alone: a cgroup can briefly list a pid the kernel has already reaped.
func (b *BareMetal) Recover(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.active[name]; ok {
		return false
	}
	cg := loadCgroup(name)
	if !processRunning(cg.procs()) {
		return false
	}
	b.active[name] = &activeWorker{cg: cg}
	b.log.Info("recovered worker", slog.String("worker", name))
	return true
}

// processRunning reports whether any pid in procs corresponds to an
// actually running process, per gopsutil/v4/process (SPEC_FULL.md §B's
// "process/cgroup liveness probing used by the check loop").
func processRunning(procs []int) bool {
	for _, pid := range procs {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		if running, err := p.IsRunning(); err == nil && running {
			return true
		}
	}
	return false
}

func (b *BareMetal) Kill(ctx context.Context, name string) error {
	b.mu.Lock()
	aw, ok := b.active[name]
	delete(b.active, name)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if aw.cmd != nil && aw.cmd.Process != nil {
		_ = aw.cmd.Process.Kill()
	}
	for _, pid := range aw.cg.procs() {
		if p, err := os.FindProcess(pid); err == nil {
			_ = p.Kill()
		}
	}
	if err := aw.cg.delete(); err != nil {
		b.log.Warn("failed to delete cgroup after kill", slog.String("worker", name), slog.Any("error", err))
	}
	return nil
}

// Cleanup runs an image's optional cleanup script and purges every
// job-scoped dependency/output directory the agent isolated, mirroring
// original_source/reactor/src/libs/launchers/bare_metal.rs's cleanup().
func (b *BareMetal) Cleanup(ctx context.Context, worker models.Worker, image models.Image, jobID string) error {
	if image.Cleanup != nil {
		args := []string{image.Cleanup.Script}
		switch image.Cleanup.Strategy {
		case models.CleanupArgsPositional, models.CleanupArgsAppended:
			args = append(args, jobID)
		case models.CleanupArgsKeyword:
			args = append(args, "--job-id", jobID)
		}
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			msg := strings.TrimSpace(string(out))
			if len(msg) > 512 {
				msg = msg[:512]
			}
			b.log.Error("cleanup script failed", slog.String("worker", worker.Name), slog.String("output", msg), slog.Any("error", err))
		}
	}

	paths := []string{
		image.Output.ResultsFile,
		image.Output.ResultFilesDir,
		image.Output.TagsFile,
		image.Output.ChildrenDir,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := purgePath(isolate(p, jobID)); err != nil {
			b.log.Warn("failed to purge job path", slog.String("worker", worker.Name), slog.Any("error", err))
		}
	}
	return nil
}
