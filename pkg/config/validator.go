package config

import "fmt"

// Validate runs every field-level check in a single pass, matching the
// teacher's pkg/config/validator.go "one Validate() call" convention.
func Validate(cfg *Config) error {
	if cfg.System.APIAddr == "" {
		return &ValidationError{Component: "system", Field: "api_addr", Err: fmt.Errorf("must not be empty")}
	}
	if cfg.System.PartitionSizeDays <= 0 {
		return &ValidationError{Component: "system", Field: "partition_size_days", Err: fmt.Errorf("must be positive")}
	}
	if cfg.System.Retention.Results <= 0 {
		return &ValidationError{Component: "system.retention", Field: "results", Err: fmt.Errorf("must be positive")}
	}
	if cfg.System.DB.Database == "" {
		return &ValidationError{Component: "system.database", Field: "database", Err: fmt.Errorf("must not be empty")}
	}
	if cfg.System.Redis.Addr == "" {
		return &ValidationError{Component: "system.redis", Field: "addr", Err: fmt.Errorf("must not be empty")}
	}

	for kind, sc := range cfg.Scalers {
		if !sc.Enabled {
			continue
		}
		if sc.CacheLifetime <= 0 && sc.CacheCron == "" {
			return &ValidationError{
				Component: "scalers." + kind,
				Field:     "cache_lifetime",
				Err:       fmt.Errorf("must set cache_lifetime or cache_cron when enabled"),
			}
		}
		if sc.DeadlinePageSize <= 0 {
			return &ValidationError{Component: "scalers." + kind, Field: "deadline_page_size", Err: fmt.Errorf("must be positive")}
		}
	}

	if cfg.Agent.PollInterval <= 0 {
		return &ValidationError{Component: "agent", Field: "poll_interval", Err: fmt.Errorf("must be positive")}
	}
	if cfg.Agent.LogShipMaxBytes <= 0 || cfg.Agent.LogShipMaxBatch <= 0 {
		return &ValidationError{Component: "agent", Field: "log_ship_max_bytes/log_ship_max_batch", Err: fmt.Errorf("must be positive")}
	}
	return nil
}
