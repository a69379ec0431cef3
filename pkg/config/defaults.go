package config

import "time"

// Defaults returns the built-in configuration merged under whatever the
// operator's system.yaml supplies, matching the teacher's
// builtin.go + merge.go "built-in first, user overrides" pattern.
func Defaults() *Config {
	return &Config{
		System: SystemConfig{
			APIAddr:           ":8080",
			PartitionSizeDays: int(7),
			Retention:         RetentionConfig{Results: 3},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "thorium",
			},
			DB: DBConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "thorium",
				SSLMode:         "disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Blob: BlobConfig{
				Region:        "us-east-1",
				SamplesBucket: "thorium-samples",
				ResultsBucket: "thorium-results",
				ReposBucket:   "thorium-repos",
			},
			AuthKeysFile: "/etc/thorium/keys.yaml",
		},
		Scalers: map[string]ScalerConfig{
			"K8s": {
				Enabled:           true,
				CacheLifetime:     60 * time.Second,
				ReservedMilliCPU:  500,
				ReservedMemoryMiB: 512,
				FairshareTax:      0.1,
				DeadlinePageSize:  100,
				WorkerLeakGrace:   5 * time.Minute,
				BasePolicies:      []string{"deny-all-ingress", "allow-dns"},
			},
			"BareMetal": {
				Enabled:           true,
				CacheLifetime:     30 * time.Second,
				ReservedMilliCPU:  1000,
				ReservedMemoryMiB: 1024,
				FairshareTax:      0.1,
				DeadlinePageSize:  100,
				WorkerLeakGrace:   5 * time.Minute,
				HostPathWhitelist: []string{"/opt/thorium/data", "/opt/thorium/tmp"},
			},
			"Windows": {
				CacheLifetime:    60 * time.Second,
				DeadlinePageSize: 50,
				WorkerLeakGrace:  5 * time.Minute,
			},
			"Kvm": {
				CacheLifetime:    60 * time.Second,
				DeadlinePageSize: 50,
				WorkerLeakGrace:  5 * time.Minute,
			},
			"External": {
				CacheLifetime:    120 * time.Second,
				DeadlinePageSize: 25,
				WorkerLeakGrace:  10 * time.Minute,
			},
		},
		Agent: AgentConfig{
			BaseDir:         "/tmp/thorium",
			PollInterval:    100 * time.Millisecond,
			LogShipMaxBytes: 100 * 1024,
			LogShipMaxBatch: 10,
			KvmSocket:       "/var/run/libvirt/libvirt-sock",
		},
	}
}
