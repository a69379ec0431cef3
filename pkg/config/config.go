// Package config loads Thorium's YAML configuration tree, grounded on the
// teacher's pkg/config/loader.go: a configDir holding a primary YAML file
// plus a .env, expanded with os.ExpandEnv, parsed with gopkg.in/yaml.v3,
// merged over built-in defaults with dario.cat/mergo, and validated in a
// single pass. The teacher's agents/chains/mcp_servers tree is replaced
// with Thorium's system.yaml (endpoints, retention, partition size) and
// per-scaler-kind defaults (spec.md §4.2, §5).
package config

import "time"

// Config is the fully loaded, validated, ready-to-use Thorium configuration.
type Config struct {
	System  SystemConfig             `yaml:"system"`
	Scalers map[string]ScalerConfig  `yaml:"scalers"`
	Agent   AgentConfig              `yaml:"agent"`
}

// SystemConfig groups the endpoints and storage knobs every component
// dials out to.
type SystemConfig struct {
	APIAddr string `yaml:"api_addr"`

	Redis RedisConfig `yaml:"redis"`
	DB    DBConfig    `yaml:"database"`
	Blob  BlobConfig  `yaml:"blobstore"`

	// PartitionSizeDays must be identical for writers and readers
	// (spec.md §9 design note); changing it requires a rebuild of the
	// materialized stream tables.
	PartitionSizeDays int `yaml:"partition_size_days"`

	Retention RetentionConfig `yaml:"retention"`

	// AuthKeysFile points at the file holding bearer-token credentials;
	// spec.md §6 "no secrets are passed on the command line".
	AuthKeysFile string `yaml:"auth_keys_file"`
}

// RedisConfig configures the kvindex (C1) connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password_env"` // name of the env var holding the password
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DBConfig configures the columnar store (C2) connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password_env"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// BlobConfig configures the blob store (C3) connection.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	AccessKeyEnv  string `yaml:"access_key_env"`
	SecretKeyEnv  string `yaml:"secret_key_env"`
	SamplesBucket string `yaml:"samples_bucket"`
	ResultsBucket string `yaml:"results_bucket"`
	ReposBucket   string `yaml:"repos_bucket"`
}

// RetentionConfig caps how many outputs survive per (kind, group, key,
// tool) (spec.md §3 Output invariant).
type RetentionConfig struct {
	Results int `yaml:"results"`
}

// ScalerConfig holds the per-scaler-kind defaults the scaler's scheduling
// loop reads: reload cadence, reserved headroom, and fairshare tax.
type ScalerConfig struct {
	Enabled bool `yaml:"enabled"`

	// CacheLifetime is how often the cache reloads absent an explicit
	// invalidation flag (spec.md §4.2).
	CacheLifetime time.Duration `yaml:"cache_lifetime"`
	// CacheCron, if set, reloads the cache on a cron schedule instead of
	// (or in addition to) CacheLifetime.
	CacheCron string `yaml:"cache_cron"`

	ReservedMilliCPU  int64 `yaml:"reserved_mcpu"`
	ReservedMemoryMiB int64 `yaml:"reserved_memory_mib"`
	FairshareTax      float64 `yaml:"fairshare_tax"`

	DeadlinePageSize int `yaml:"deadline_page_size"`

	WorkerLeakGrace time.Duration `yaml:"worker_leak_grace"`

	// Namespaces lists the K8s namespaces this scaler kind manages network
	// policies in (K8s kind only).
	Namespaces []string `yaml:"namespaces"`
	// BasePolicies are applied to every managed namespace unconditionally
	// (spec.md SPEC_FULL §D network policy base-policy set).
	BasePolicies []string `yaml:"base_policies"`

	// HostPathWhitelist lists host paths this scaler's nodes may bind-mount
	// into a job's container; a job whose image declares a RequiredHostPaths
	// entry outside this set is never scheduled here (spec.md §4.2 step 3,
	// BareMetal/Kvm kinds).
	HostPathWhitelist []string `yaml:"host_path_whitelist"`
}

// AgentConfig holds the per-job agent's own tunables.
type AgentConfig struct {
	BaseDir         string        `yaml:"base_dir"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	LogShipMaxBytes int           `yaml:"log_ship_max_bytes"`
	LogShipMaxBatch int           `yaml:"log_ship_max_batch"`

	// KvmSocket is the libvirt Unix socket the Kvm executor dials.
	KvmSocket string `yaml:"kvm_socket"`
	// KvmBaseImage is the qcow2 base image a job's domain boots from.
	KvmBaseImage string `yaml:"kvm_base_image"`
}
