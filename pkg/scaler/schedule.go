package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// NodeCapacity is one node's remaining headroom, already reduced by the
// scaler's reserved-resource and fairshare-tax configuration (spec.md
// §4.2 step 1).
type NodeCapacity struct {
	Cluster   string
	Node      string
	MilliCPU  int64
	MemoryMiB int64

	// HostPaths lists the bind-mount paths this node is permitted to expose
	// to a job's container, the per-node half of the host-path whitelist
	// check (the scaler-kind-wide config.ScalerConfig.HostPathWhitelist is
	// the other half; a node's own list is always a subset of it).
	HostPaths []string
}

// Fits reports whether the node has enough headroom left for r.
func (n NodeCapacity) Fits(r models.Resources) bool {
	return n.MilliCPU >= r.MilliCPU && n.MemoryMiB >= r.MemoryMiB
}

// Reserve deducts r from the node's remaining headroom.
func (n *NodeCapacity) Reserve(r models.Resources) {
	n.MilliCPU -= r.MilliCPU
	n.MemoryMiB -= r.MemoryMiB
}

// hasHostPaths reports whether every path an image requires is covered by
// the node's whitelist.
func (n NodeCapacity) hasHostPaths(required []string) bool {
	if len(required) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(n.HostPaths))
	for _, p := range n.HostPaths {
		allowed[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := allowed[p]; !ok {
			return false
		}
	}
	return true
}

// NodeCapacitySource reports the current nodes available to a scaler kind
// in a cluster, already net of whatever the source considers permanently
// unschedulable (cordoned nodes, nodes out of the pool).
type NodeCapacitySource interface {
	Nodes(ctx context.Context, cluster string) ([]NodeCapacity, error)
}

// Scheduler runs one scaler kind's bin-packing loop: snapshot capacity,
// page the deadline stream, filter candidates, pack them onto nodes, and
// spawn or retire workers through the Workers desired-state store (spec.md
// §4.2). Grounded on the original scaler/src/libs/cache.rs scheduling tick
// alongside the teacher's queue/worker.go claim loop shape.
type Scheduler struct {
	kind    models.ScalerKind
	cluster string
	cfg     config.ScalerConfig
	cache   *Cache

	api     *client.Client
	jobs    *columnar.Jobs
	workers *columnar.Workers

	nodes NodeCapacitySource
	log   *slog.Logger
}

// NewScheduler builds a Scheduler for one (scaler kind, cluster) pair.
func NewScheduler(kind models.ScalerKind, cluster string, cfg config.ScalerConfig, cache *Cache, api *client.Client, db *columnar.Client, nodes NodeCapacitySource) *Scheduler {
	return &Scheduler{
		kind:    kind,
		cluster: cluster,
		cfg:     cfg,
		cache:   cache,
		api:     api,
		jobs:    db.Jobs(),
		workers: db.Workers(),
		nodes:   nodes,
		log:     slog.With("component", "scaler", "kind", string(kind), "cluster", cluster),
	}
}

// candidate is a due job paired with the image definition the scaler's
// cache already loaded for it.
type candidate struct {
	job   models.GenericJob
	image models.Image
}

// Tick runs one scheduling pass: it is meant to be called on a short,
// fixed interval by the caller (the cache's own reload cadence is
// separate and much coarser).
func (s *Scheduler) Tick(ctx context.Context) error {
	nodes, err := s.nodes.Nodes(ctx, s.cluster)
	if err != nil {
		return fmt.Errorf("scaler: listing node capacity: %w", err)
	}
	if len(nodes) == 0 {
		s.log.Warn("no nodes available, skipping tick")
		return nil
	}

	deadlines, err := s.api.Deadlines(ctx, s.kind, time.Unix(0, 0), time.Now(), int64(s.cfg.DeadlinePageSize))
	if err != nil {
		return fmt.Errorf("scaler: paging deadlines: %w", err)
	}

	candidates := make([]candidate, 0, len(deadlines))
	demand := make(map[string]int) // group/pipeline/stage -> remaining due jobs, for step 5's retirement check
	for _, d := range deadlines {
		job, err := s.jobs.Get(ctx, d.JobID)
		if err != nil {
			s.log.Warn("deadline referenced missing job", slog.String("job_id", d.JobID), slog.Any("error", err))
			continue
		}
		key := stageKey(job.Group, job.Pipeline, job.Stage)
		demand[key]++

		img, ok := s.lookupImage(job.Group, job.Image)
		if !ok {
			s.log.Warn("deadline referenced image dropped from cache (banned or removed)",
				slog.String("group", job.Group), slog.String("image", job.Image))
			continue
		}
		if img.Banned() {
			continue
		}
		ok, err = s.withinSpawnLimits(ctx, job, img)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{job: job, image: img})
	}

	placements := s.pack(nodes, candidates)
	for _, p := range placements {
		if err := s.spawn(ctx, p); err != nil {
			s.log.Error("spawn failed", slog.String("job_id", p.cand.job.ID), slog.Any("error", err))
		}
		demand[stageKey(p.cand.job.Group, p.cand.job.Pipeline, p.cand.job.Stage)]--
	}

	return s.retireIdle(ctx, demand)
}

func stageKey(group, pipeline, stage string) string {
	return group + "/" + pipeline + "/" + stage
}

func (s *Scheduler) lookupImage(group, name string) (models.Image, bool) {
	for _, img := range s.cache.Images(group) {
		if img.Name == name {
			return img, true
		}
	}
	return models.Image{}, false
}

// withinSpawnLimits re-derives the current in-flight worker count for this
// image, fresh every tick, by joining the desired-state Workers rows back
// to their claimed job's creator (spec.md §4.2 step 3: "computed fresh each
// tick" rather than maintained as an incremental counter, to stay correct
// across scaler restarts).
func (s *Scheduler) withinSpawnLimits(ctx context.Context, job models.GenericJob, img models.Image) (bool, error) {
	if img.SpawnLimits.PerUser == 0 && img.SpawnLimits.Total == 0 {
		return true, nil
	}
	existing, err := s.workers.ByStage(ctx, job.Group, job.Pipeline, job.Stage)
	if err != nil {
		return false, fmt.Errorf("scaler: listing workers for spawn-limit check: %w", err)
	}
	total := 0
	perUser := 0
	for _, w := range existing {
		if w.Active == nil {
			continue
		}
		running, err := s.jobs.Get(ctx, w.Active.JobID)
		if err != nil {
			continue
		}
		if running.Image != img.Name {
			continue
		}
		total++
		if running.Creator == job.Creator {
			perUser++
		}
	}
	if img.SpawnLimits.Total > 0 && total >= img.SpawnLimits.Total {
		return false, nil
	}
	if img.SpawnLimits.PerUser > 0 && perUser >= img.SpawnLimits.PerUser {
		return false, nil
	}
	return true, nil
}

type placement struct {
	cand candidate
	node NodeCapacity
}

// pack bin-packs candidates onto nodes least-loaded-first (spec.md §4.2
// step 4): nodes are sorted by remaining MilliCPU descending before each
// placement so the least-loaded node is always tried first, spreading load
// rather than stacking onto whichever node happened to fit first.
func (s *Scheduler) pack(nodes []NodeCapacity, candidates []candidate) []placement {
	pool := append([]NodeCapacity(nil), nodes...)
	var out []placement
	for _, c := range candidates {
		sort.Slice(pool, func(i, j int) bool { return pool[i].MilliCPU > pool[j].MilliCPU })
		placed := false
		for i := range pool {
			if !pool[i].Fits(c.image.Resources) {
				continue
			}
			if !pool[i].hasHostPaths(c.image.RequiredHostPaths) {
				continue
			}
			pool[i].Reserve(c.image.Resources)
			out = append(out, placement{cand: c, node: pool[i]})
			placed = true
			break
		}
		if !placed {
			s.log.Debug("no node fits candidate", slog.String("job_id", c.job.ID), slog.String("image", c.image.Name))
		}
	}
	return out
}

// spawn creates (or reuses) a Workers row, claims exactly the one
// candidate job onto it through the stable job-handle API, and mirrors the
// claim onto the desired-state row (spec.md §4.2 step 5).
func (s *Scheduler) spawn(ctx context.Context, p placement) error {
	job := p.cand.job
	name := fmt.Sprintf("%s-%s-%s-%s", p.node.Node, job.Group, job.Stage, job.ID[:8])

	if err := s.workers.Create(ctx, models.Worker{
		Cluster:  p.node.Cluster,
		Node:     p.node.Node,
		Name:     name,
		Scaler:   s.kind,
		Group:    job.Group,
		Pipeline: job.Pipeline,
		Stage:    job.Stage,
		Status:   models.WorkerSpawning,
	}); err != nil {
		return fmt.Errorf("scaler: creating worker row %s: %w", name, err)
	}

	claimed, err := s.api.Claim(ctx, job.Group, job.Pipeline, job.Stage, p.node.Cluster, p.node.Node, name, 1)
	if err != nil {
		return fmt.Errorf("scaler: claiming job %s onto worker %s: %w", job.ID, name, err)
	}
	if len(claimed) == 0 {
		// Another actor claimed it first between the deadline page and now;
		// the worker row is left Spawning with no active job. The reactor
		// does not launch such a row, and the idle sweep deletes it once
		// the stage it serves has no demand.
		return nil
	}

	return s.workers.SetActive(ctx, name, &models.ActiveJob{
		JobID:     claimed[0].ID,
		StartedAt: time.Now().UTC(),
	})
}

// retireIdle deletes idle, never-claimed workers for stages with no
// remaining due demand this tick (spec.md §4.2 step 5 "scale down").
// Workers past WorkerLeakGrace are left to the reactor's own leak check
// (models.Worker.Leaked) rather than retired here, since a leak may mean a
// job needs resetting first.
func (s *Scheduler) retireIdle(ctx context.Context, demand map[string]int) error {
	seen := make(map[string]bool)
	for key := range demand {
		if demand[key] > 0 || seen[key] {
			continue
		}
		seen[key] = true
	}
	for key := range demand {
		if demand[key] > 0 {
			continue
		}
		group, pipeline, stage, ok := splitStageKey(key)
		if !ok {
			continue
		}
		workers, err := s.workers.ByStage(ctx, group, pipeline, stage)
		if err != nil {
			return fmt.Errorf("scaler: listing workers for retirement in %s: %w", key, err)
		}
		for _, w := range workers {
			if w.Active != nil || w.Status != models.WorkerSpawning {
				continue
			}
			if err := s.workers.Delete(ctx, w.Name); err != nil {
				s.log.Error("retiring idle worker failed", slog.String("worker", w.Name), slog.Any("error", err))
				continue
			}
			s.log.Info("retired idle worker", slog.String("worker", w.Name), slog.String("stage", key))
		}
	}
	return nil
}

func splitStageKey(key string) (group, pipeline, stage string, ok bool) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
