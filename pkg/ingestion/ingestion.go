// Package ingestion wires together the result and tag pipelines spec.md
// §4.5 describes (C2, C9): on submission it persists through pkg/columnar,
// enforces per-group retention by pruning and deleting now-orphaned blobs,
// and notifies pkg/search. None of the three stores know about each other;
// this package is the only place that sequences them, grounded on how the
// teacher's pkg/queue/worker.go sequences a terminal status update, an
// event publish, and a cleanup step after one claim's work completes.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/kvindex"
	"github.com/thorium-sh/thorium/pkg/models"
	"github.com/thorium-sh/thorium/pkg/search"
)

// Pipeline sequences columnar writes, blob cleanup, and search
// notification for results and tags.
type Pipeline struct {
	db        *columnar.Client
	kv        *kvindex.Client
	blobs     *blobstore.Client
	bus       *search.Bus
	retention int
	partition models.PartitionSize
	log       *slog.Logger
}

// New constructs a Pipeline over already-connected store clients.
func New(db *columnar.Client, kv *kvindex.Client, blobs *blobstore.Client, bus *search.Bus, retention int, partition models.PartitionSize) *Pipeline {
	return &Pipeline{db: db, kv: kv, blobs: blobs, bus: bus, retention: retention, partition: partition, log: slog.With("component", "ingestion")}
}

// SubmitResult persists a new Output visible to groups, prunes any group
// that now exceeds retention, deletes blobs for outputs that became
// unreachable from every group, and emits ResultSearchEvent::modified
// (spec.md §4.5 steps 1-5).
func (p *Pipeline) SubmitResult(ctx context.Context, kind, key string, out models.Output, groups []string) error {
	if err := p.db.Results().Create(ctx, kind, key, out, groups, p.partition); err != nil {
		return fmt.Errorf("ingestion: creating result: %w", err)
	}

	victims, err := p.db.Results().Prune(ctx, kind, key, groups, p.retention)
	if err != nil {
		return fmt.Errorf("ingestion: pruning results: %w", err)
	}
	if len(victims) > 0 {
		orphaned, err := p.db.Results().Orphaned(ctx, kind, key, victims)
		if err != nil {
			return fmt.Errorf("ingestion: checking orphaned results: %w", err)
		}
		for _, id := range orphaned {
			if err := p.deleteResultBlobs(ctx, id); err != nil {
				return err
			}
			if err := p.db.Results().DeleteOutput(ctx, id); err != nil {
				return fmt.Errorf("ingestion: deleting orphaned output %s: %w", id, err)
			}
		}
	}

	for _, group := range groups {
		if err := p.bus.PublishResult(ctx, group, key); err != nil {
			return fmt.Errorf("ingestion: publishing result event: %w", err)
		}
	}
	return nil
}

// deleteResultBlobs removes an output's primary result blob (keyed by the
// output id) and every result-file blob (keyed <output id>/<file name>)
// — best-effort per spec.md §4.6's framing that blob-store state
// is reconstructible from the columnar side, never the other way round.
func (p *Pipeline) deleteResultBlobs(ctx context.Context, outputID string) error {
	outs, err := p.db.Results().Get(ctx, []string{outputID})
	if err != nil {
		return fmt.Errorf("ingestion: loading output %s for blob cleanup: %w", outputID, err)
	}
	out, ok := outs[outputID]
	if !ok {
		return nil
	}
	for _, name := range out.ResultFiles {
		key := fmt.Sprintf("%s/%s", outputID, name)
		if err := p.blobs.Delete(ctx, "results", key); err != nil {
			return fmt.Errorf("ingestion: deleting result file %s: %w", key, err)
		}
	}
	if err := p.blobs.Delete(ctx, "results", outputID); err != nil {
		return fmt.Errorf("ingestion: deleting result blob %s: %w", outputID, err)
	}
	return nil
}

// CreateTags upserts tags for an item across groups and emits
// TagSearchEvent::modified once per group that received a write (spec.md
// §4.5 tag create; each group's earliest timestamp sets its partition).
func (p *Pipeline) CreateTags(ctx context.Context, kind, key string, tags map[string][]string, earliest map[string]time.Time) error {
	if len(tags) == 0 {
		return nil
	}
	if err := p.db.Tags().Create(ctx, kind, key, tags, earliest, p.partition); err != nil {
		return fmt.Errorf("ingestion: creating tags: %w", err)
	}
	for group := range earliest {
		if err := p.bus.PublishTag(ctx, group, key); err != nil {
			return fmt.Errorf("ingestion: publishing tag event: %w", err)
		}
	}
	return nil
}

// DeleteTag removes one tag value from an item in one group and emits
// TagSearchEvent::modified exactly once, matching spec.md §8's "tag
// delete consistency" testable property.
func (p *Pipeline) DeleteTag(ctx context.Context, kind, group, key, tagKey, tagValue string) error {
	if err := p.db.Tags().Delete(ctx, kind, group, key, tagKey, tagValue, p.partition); err != nil {
		return fmt.Errorf("ingestion: deleting tag: %w", err)
	}
	return p.bus.PublishTag(ctx, group, key)
}
