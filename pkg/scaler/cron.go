package scaler

import (
	"context"

	"github.com/robfig/cron/v3"
)

// runCron starts a cron schedule that calls Invalidate on every tick,
// stopping it when ctx is cancelled. Used instead of (or alongside) the
// plain CacheLifetime ticker when CacheCron is configured (SPEC_FULL.md
// §B, grounded on ternarybob-quaero's internal/services/scheduler,
// generalized from its named job registry down to the single reload
// trigger the scaler cache needs).
func (c *Cache) runCron(ctx context.Context) (*cron.Cron, error) {
	if c.cfg.CacheCron == "" {
		return nil, nil
	}
	sched := cron.New()
	if _, err := sched.AddFunc(c.cfg.CacheCron, c.Invalidate); err != nil {
		return nil, err
	}
	sched.Start()
	go func() {
		<-ctx.Done()
		<-sched.Stop().Done()
	}()
	return sched, nil
}
