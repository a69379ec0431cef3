package models

// ScalerKind is the execution backend a job or worker belongs to.
type ScalerKind string

// Scaler kinds.
const (
	ScalerK8s       ScalerKind = "K8s"
	ScalerBareMetal ScalerKind = "BareMetal"
	ScalerWindows   ScalerKind = "Windows"
	ScalerKvm       ScalerKind = "Kvm"
	ScalerExternal  ScalerKind = "External"
)

// DependencyStrategy controls how a dependency kind is delivered to a job.
type DependencyStrategy string

// Dependency delivery strategies.
const (
	DependencyDisabled  DependencyStrategy = "Disabled"
	DependencyPaths     DependencyStrategy = "Paths"
	DependencyNames     DependencyStrategy = "Names"
	DependencyDirectory DependencyStrategy = "Directory"
)

// DependencySettings configures how one dependency kind is materialized.
type DependencySettings struct {
	Strategy DependencyStrategy `json:"strategy,omitempty"`
}

// Disabled reports whether this dependency kind is turned off.
func (d DependencySettings) Disabled() bool {
	return d.Strategy == "" || d.Strategy == DependencyDisabled
}

// ImageDependencies groups the per-kind dependency settings an image declares.
type ImageDependencies struct {
	Samples         DependencySettings `json:"samples"`
	Ephemeral       DependencySettings `json:"ephemeral"`
	ParentEphemeral DependencySettings `json:"parent_ephemeral"`
	Repos           DependencySettings `json:"repos"`
	Tags            DependencySettings `json:"tags"`
	Results         DependencySettings `json:"results"`
	Children        DependencySettings `json:"children"`
}

// Resources are the requests an image's jobs need from a node, already
// unit-normalized into mebibytes / milli-CPU.
type Resources struct {
	MilliCPU   int64       `json:"milli_cpu"`
	MemoryMiB  int64       `json:"memory_mib"`
	StorageMiB int64       `json:"storage_mib"`
	GPU        *GPURequest `json:"gpu,omitempty"`
}

// GPURequest is an optional GPU reservation.
type GPURequest struct {
	Count int    `json:"count"`
	Model string `json:"model"`
}

// SpawnLimits caps concurrent workers per (image, user).
type SpawnLimits struct {
	// PerUser is the max concurrent workers one user may have running this
	// image at once. Zero means unlimited.
	PerUser int `json:"per_user"`
	// Total is the max concurrent workers across all users. Zero means
	// unlimited.
	Total int `json:"total"`
}

// CommandTemplate is the base command line an image launches, before a job's
// own args are layered over it (see spec.md §4.4 Execute).
type CommandTemplate struct {
	Positionals []string          `json:"positionals,omitempty"`
	Switches    []string          `json:"switches,omitempty"`
	Kwargs      map[string]string `json:"kwargs,omitempty"`
}

// OutputPaths names the files/directories an agent reads after the tool
// process exits.
type OutputPaths struct {
	ResultsFile    string `json:"results_file,omitempty"`
	ResultFilesDir string `json:"result_files_dir,omitempty"`
	TagsFile       string `json:"tags_file,omitempty"`
	ChildrenDir    string `json:"children_dir,omitempty"`
}

// CleanupArgStrategy controls how cleanup.script receives its arguments.
type CleanupArgStrategy string

// Cleanup argument strategies.
const (
	CleanupArgsPositional CleanupArgStrategy = "positional"
	CleanupArgsAppended   CleanupArgStrategy = "appended"
	CleanupArgsKeyword    CleanupArgStrategy = "keyword"
)

// CleanupSpec describes an optional post-job cleanup script.
type CleanupSpec struct {
	Script   string             `json:"script"`
	Strategy CleanupArgStrategy `json:"strategy"`
}

// LifetimeKind controls how long a worker running this image survives.
type LifetimeKind string

// Lifetime kinds.
const (
	LifetimeCounted   LifetimeKind = "counted"
	LifetimeTimed     LifetimeKind = "timed"
	LifetimeUnlimited LifetimeKind = "unlimited"
)

// Lifetime bounds how many jobs (counted) or how long (timed) a worker may
// run before the scaler retires it, regardless of pending demand.
type Lifetime struct {
	Kind  LifetimeKind `json:"kind"`
	Count int          `json:"count,omitempty"` // valid when Kind == LifetimeCounted
	Timed int64        `json:"timed,omitempty"` // seconds, valid when Kind == LifetimeTimed
}

// Image is a runnable tool definition scoped to a group.
type Image struct {
	Group  string     `json:"group"`
	Name   string     `json:"name"`
	Scaler ScalerKind `json:"scaler"`
	// ContainerImage is the registry reference (e.g. "repo/tool:tag") the
	// K8s scaler pulls to run this image's jobs; unused by scaler kinds
	// that don't spawn containers.
	ContainerImage string `json:"container_image,omitempty"`
	// Generator marks an image whose jobs iteratively sleep and are
	// re-materialized with a checkpoint instead of running to a single
	// completion (spec.md §4.1 sleep/checkpoint, GLOSSARY "Generator").
	Generator       bool               `json:"generator"`
	Resources       Resources          `json:"resources"`
	SpawnLimits     SpawnLimits        `json:"spawn_limits"`
	Command         CommandTemplate    `json:"command"`
	Deps            ImageDependencies  `json:"deps"`
	Output          OutputPaths        `json:"output"`
	Cleanup         *CleanupSpec       `json:"cleanup,omitempty"`
	Lifetime        Lifetime           `json:"lifetime"`
	TimeoutSecs     int                `json:"timeout_secs"`
	NetworkPolicies []string           `json:"network_policies,omitempty"`
	Bans            []string           `json:"bans,omitempty"`
	// RequiredHostPaths lists host paths a bare-metal job's container needs
	// bind-mounted; the scaler refuses to schedule the job on a node whose
	// host_path_whitelist doesn't cover every entry (spec.md §4.2 step 3).
	RequiredHostPaths []string `json:"required_host_paths,omitempty"`
	// RuntimeSamples is a rolling window (bounded to 10,000) of prior job
	// runtimes in seconds, used to compute the image's average runtime.
	RuntimeSamples []float64 `json:"runtime_samples,omitempty"`
}

// Banned reports whether the image carries any ban and is therefore
// unschedulable.
func (i *Image) Banned() bool {
	return len(i.Bans) > 0
}

// Key uniquely identifies an image within a cluster.
func (i *Image) Key() string {
	return i.Group + "/" + i.Name
}

const maxRuntimeSamples = 10000

// RecordRuntime appends a runtime sample, evicting the oldest once the
// rolling window exceeds maxRuntimeSamples.
func (i *Image) RecordRuntime(seconds float64) {
	i.RuntimeSamples = append(i.RuntimeSamples, seconds)
	if len(i.RuntimeSamples) > maxRuntimeSamples {
		i.RuntimeSamples = i.RuntimeSamples[len(i.RuntimeSamples)-maxRuntimeSamples:]
	}
}

// AverageRuntime returns the mean of the recorded runtime samples, or zero
// if none have been recorded yet.
func (i *Image) AverageRuntime() float64 {
	if len(i.RuntimeSamples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range i.RuntimeSamples {
		sum += s
	}
	return sum / float64(len(i.RuntimeSamples))
}
