// Package scaler implements Thorium's scaler (C5): a per-scaler-kind
// cache of catalog state reloaded on a cadence, a bin-packing scheduling
// loop that spawns/retires workers through the desired-state Workers
// store, and a K8s NetworkPolicy reconciler. Generalizes the teacher's
// pkg/config registries' reload-on-lifetime pattern (pkg/config/loader.go,
// "built-in defaults merged with operator overrides, loaded once at
// startup") into a continuously-refreshed, delta-tracking Cache.
package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// systemUser is excluded from the cache's derived user list (spec.md
// §4.2 "user list, minus the thorium system user").
const systemUser = "thorium"

// Delta summarizes what changed during one Reload: the network-policy
// reconciler's input (policies_added/policies_removed per group) plus an
// image-count delta kept for operational logging (SPEC_FULL.md §D,
// original scaler/src/libs/cache.rs).
type Delta struct {
	PoliciesAdded   map[string][]string
	PoliciesRemoved map[string][]string
	ImageCountDelta int
}

// Cache holds one scaler kind's in-memory snapshot of catalog state,
// reloaded wholesale every CacheLifetime (or on-demand via Invalidate),
// per spec.md §4.2.
type Cache struct {
	kind models.ScalerKind
	cfg  config.ScalerConfig
	cat  *columnar.Catalog
	pol  *columnar.NetworkPolicies
	log  *slog.Logger

	digests digestProbe // nil disables the optional registry probe

	mu       sync.RWMutex
	users    []string
	groups   map[string]models.Group
	images   map[string][]models.Image         // group -> unbanned images for this kind
	policies map[string][]models.NetworkPolicy // group -> policies
	digest   map[string]string                 // image key -> resolved digest

	invalidate chan struct{}
}

// New builds a Cache for one scaler kind. digests may be nil to disable
// the external registry probe.
func New(kind models.ScalerKind, cfg config.ScalerConfig, cat *columnar.Catalog, pol *columnar.NetworkPolicies, digests digestProbe) *Cache {
	return &Cache{
		kind:       kind,
		cfg:        cfg,
		cat:        cat,
		pol:        pol,
		digests:    digests,
		groups:     make(map[string]models.Group),
		images:     make(map[string][]models.Image),
		policies:   make(map[string][]models.NetworkPolicy),
		digest:     make(map[string]string),
		invalidate: make(chan struct{}, 1),
		log:        slog.With("component", "scaler", "kind", string(kind)),
	}
}

// Invalidate schedules an out-of-cadence reload, the API-set invalidation
// flag spec.md §4.2 describes. Non-blocking: a pending invalidation
// already queued is left alone.
func (c *Cache) Invalidate() {
	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

// Run reloads the cache every CacheLifetime (or sooner on Invalidate)
// until ctx is cancelled, handing each Reload's Delta to onReload. It
// blocks; call it in its own goroutine.
func (c *Cache) Run(ctx context.Context, onReload func(Delta)) error {
	if _, err := c.Reload(ctx); err != nil {
		return fmt.Errorf("scaler: initial cache load: %w", err)
	}

	if _, err := c.runCron(ctx); err != nil {
		return fmt.Errorf("scaler: starting cache_cron schedule: %w", err)
	}

	lifetime := c.cfg.CacheLifetime
	if lifetime <= 0 {
		// CacheCron alone drives reloads; fall back to a long safety-net
		// ticker rather than spinning on a zero duration.
		lifetime = 24 * time.Hour
	}
	ticker := time.NewTicker(lifetime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.invalidate:
			ticker.Reset(lifetime)
		}
		delta, err := c.Reload(ctx)
		if err != nil {
			c.log.Error("cache reload failed", slog.Any("error", err))
			continue
		}
		if onReload != nil {
			onReload(delta)
		}
	}
}

// Reload reloads groups, the derived user list, images, and network
// policies, and returns the deltas since the previous snapshot (spec.md
// §4.2).
func (c *Cache) Reload(ctx context.Context) (Delta, error) {
	groups, err := c.cat.ListGroups(ctx)
	if err != nil {
		return Delta{}, fmt.Errorf("scaler: listing groups: %w", err)
	}

	byName := make(map[string]models.Group, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}
	expandMetagroups(byName)

	users := derivedUsers(byName)

	images := make(map[string][]models.Image, len(byName))
	totalImages := 0
	for name := range byName {
		imgs, err := c.cat.ImagesByScaler(ctx, name, c.kind)
		if err != nil {
			return Delta{}, fmt.Errorf("scaler: loading images for group %s: %w", name, err)
		}
		images[name] = imgs
		totalImages += len(imgs)
		c.log.Debug("loaded group images", slog.String("group", name), slog.Int("count", len(imgs)))
	}

	policies := make(map[string][]models.NetworkPolicy, len(byName))
	if c.kind == models.ScalerK8s {
		for name := range byName {
			pols, err := c.pol.ByGroup(ctx, name)
			if err != nil {
				return Delta{}, fmt.Errorf("scaler: loading network policies for group %s: %w", name, err)
			}
			policies[name] = pols
		}
	}

	digests := make(map[string]string, len(c.digest))
	if c.digests != nil {
		for name, imgs := range images {
			for _, img := range imgs {
				if img.ContainerImage == "" {
					continue
				}
				d, err := c.digests.Digest(ctx, img.ContainerImage)
				if err != nil {
					c.log.Warn("image digest probe failed", slog.String("group", name),
						slog.String("image", img.Name), slog.Any("error", err))
					continue
				}
				digests[img.Key()] = d
			}
		}
	}

	c.mu.Lock()
	prevPolicies := c.policies
	prevImageCount := 0
	for _, imgs := range c.images {
		prevImageCount += len(imgs)
	}
	c.users = users
	c.groups = byName
	c.images = images
	c.policies = policies
	c.digest = digests
	c.mu.Unlock()

	delta := Delta{
		PoliciesAdded:   map[string][]string{},
		PoliciesRemoved: map[string][]string{},
		ImageCountDelta: totalImages - prevImageCount,
	}
	for group, pols := range policies {
		added, removed := diffPolicies(prevPolicies[group], pols)
		if len(added) > 0 {
			delta.PoliciesAdded[group] = added
		}
		if len(removed) > 0 {
			delta.PoliciesRemoved[group] = removed
		}
	}
	for group, prev := range prevPolicies {
		if _, ok := policies[group]; ok {
			continue
		}
		for _, p := range prev {
			delta.PoliciesRemoved[group] = append(delta.PoliciesRemoved[group], p.ID)
		}
	}

	c.log.Info("cache reload complete", slog.Int("groups", len(byName)), slog.Int("users", len(users)),
		slog.Int("images", totalImages), slog.Int("image_count_delta", delta.ImageCountDelta))
	return delta, nil
}

// Users returns the cache's current derived user list.
func (c *Cache) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.users...)
}

// Group returns a loaded group definition by name.
func (c *Cache) Group(name string) (models.Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[name]
	return g, ok
}

// Images returns the unbanned, kind-filtered images loaded for a group.
func (c *Cache) Images(group string) []models.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Image(nil), c.images[group]...)
}

// Policies returns the network policies loaded for a group.
func (c *Cache) Policies(group string) []models.NetworkPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.NetworkPolicy(nil), c.policies[group]...)
}

// Digest returns the resolved registry digest for an image, if the probe
// is enabled and it resolved successfully on the last reload.
func (c *Cache) Digest(imageKey string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.digest[imageKey]
	return d, ok
}

// expandMetagroups recomputes every group's Combined role sets in place,
// resolving a metagroup reference to the referenced group's direct Users
// members, recursively, with cyclic references breaking the recursion
// (DESIGN.md: cyclic group references degrade to "no further expansion"
// rather than an error, since the scaler must keep scheduling on a
// partially-malformed catalog).
func expandMetagroups(groups map[string]models.Group) {
	memo := make(map[string][]string, len(groups))
	var resolve func(name string, seen map[string]bool) []string
	resolve = func(name string, seen map[string]bool) []string {
		if v, ok := memo[name]; ok {
			return v
		}
		if seen[name] {
			return nil
		}
		g, ok := groups[name]
		if !ok {
			return nil
		}
		seen[name] = true
		out := append([]string{}, g.Users.Direct...)
		for _, mg := range g.Users.Metagroups {
			out = append(out, resolve(mg, seen)...)
		}
		memo[name] = out
		return out
	}
	for name, g := range groups {
		gName := name
		g.Expand(func(mg string) []string { return resolve(mg, map[string]bool{gName: true}) })
		groups[name] = g
	}
}

// derivedUsers unions every group's four Combined role sets, minus the
// Thorium system user (spec.md §4.2).
func derivedUsers(groups map[string]models.Group) []string {
	seen := make(map[string]struct{})
	for _, g := range groups {
		for _, rs := range []models.RoleSet{g.Owners, g.Managers, g.Users, g.Monitors} {
			for _, u := range rs.Combined {
				if u == systemUser {
					continue
				}
				seen[u] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// diffPolicies compares a group's previous and current policy lists by
// id and reports which ids were added or removed.
func diffPolicies(prev, cur []models.NetworkPolicy) (added, removed []string) {
	prevIDs := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		prevIDs[p.ID] = struct{}{}
	}
	curIDs := make(map[string]struct{}, len(cur))
	for _, p := range cur {
		curIDs[p.ID] = struct{}{}
		if _, ok := prevIDs[p.ID]; !ok {
			added = append(added, p.ID)
		}
	}
	for _, p := range prev {
		if _, ok := curIDs[p.ID]; !ok {
			removed = append(removed, p.ID)
		}
	}
	return added, removed
}
