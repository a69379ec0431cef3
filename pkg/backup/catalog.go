package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// catalogSnapshot is the group/image/pipeline definitions a cluster's
// jobs and scheduling reference. The original backs these with the same
// KV index snapshot restored ahead of columnar data so that
// "foreign-key-like references (group -> image, image -> pipeline) are
// valid during restore" (spec.md §4.6); this port's Catalog instead lives
// in the columnar store itself (pkg/columnar/catalog.go), so it gets its
// own snapshot file restored in that same ahead-of-partitions position
// (DESIGN.md).
type catalogSnapshot struct {
	Groups    []models.Group    `json:"groups"`
	Images    []models.Image    `json:"images"`
	Pipelines []models.Pipeline `json:"pipelines"`
}

const catalogFileName = "catalog.json"

// dumpCatalog snapshots every group/image/pipeline definition to
// <dir>/catalog.json.
func dumpCatalog(ctx context.Context, cat *columnar.Catalog, path string) error {
	groups, err := cat.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("backup: listing groups: %w", err)
	}

	snap := catalogSnapshot{Groups: groups}
	for _, g := range groups {
		images, err := cat.ListImages(ctx, g.Name)
		if err != nil {
			return fmt.Errorf("backup: listing images for %s: %w", g.Name, err)
		}
		snap.Images = append(snap.Images, images...)

		pipelines, err := cat.ListPipelines(ctx, g.Name)
		if err != nil {
			return fmt.Errorf("backup: listing pipelines for %s: %w", g.Name, err)
		}
		snap.Pipelines = append(snap.Pipelines, pipelines...)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("backup: encoding catalog snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("backup: writing catalog snapshot: %w", err)
	}
	return nil
}

// restoreCatalog replays a catalog.json snapshot, upserting every group,
// image, and pipeline ahead of any partition-archive restore.
func restoreCatalog(ctx context.Context, cat *columnar.Catalog, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("backup: reading catalog snapshot: %w", err)
	}
	var snap catalogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("backup: decoding catalog snapshot: %w", err)
	}
	for _, g := range snap.Groups {
		if err := cat.PutGroup(ctx, g); err != nil {
			return fmt.Errorf("backup: restoring group %s: %w", g.Name, err)
		}
	}
	for _, img := range snap.Images {
		if err := cat.PutImage(ctx, img); err != nil {
			return fmt.Errorf("backup: restoring image %s/%s: %w", img.Group, img.Name, err)
		}
	}
	for _, p := range snap.Pipelines {
		if err := cat.PutPipeline(ctx, p); err != nil {
			return fmt.Errorf("backup: restoring pipeline %s/%s: %w", p.Group, p.Name, err)
		}
	}
	return nil
}
