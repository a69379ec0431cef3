package models

import "time"

// JobStatus is the lifecycle state of a single job.
type JobStatus string

// Job statuses (spec.md §4.1 state machine).
const (
	JobCreated   JobStatus = "Created"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobSleeping  JobStatus = "Sleeping"
)

// JobHandleStatus is returned by the job-handle endpoints (proceed / error /
// sleep / checkpoint) so a caller can distinguish a same-stage completion
// from one that advanced the reaction, without an extra read. Grounded on
// the original Rust's JobHandleStatus (api/src/models/jobs.rs).
type JobHandleStatus string

// Job handle statuses.
const (
	HandleWaiting     JobHandleStatus = "Waiting"
	HandleProceeding  JobHandleStatus = "Proceeding"
	HandleCompleted   JobHandleStatus = "Completed"
	HandleErrored     JobHandleStatus = "Errored"
	HandleSleeping    JobHandleStatus = "Sleeping"
	HandleCheckpointed JobHandleStatus = "Checkpointed"
)

// JobArgs holds the positional/switch/kwarg overrides a reaction supplies
// for one stage image, plus the override flags that control how they are
// layered onto the image's command template (spec.md §4.4 Execute).
type JobArgs struct {
	Positionals []string          `json:"positionals,omitempty"`
	Switches    []string          `json:"switches,omitempty"`
	Kwargs      map[string]string `json:"kwargs,omitempty"`

	OverridePositionals bool     `json:"override_positionals"`
	OverrideKwargs      bool     `json:"override_kwargs"`
	OverrideCmd         bool     `json:"override_cmd"`
	OverrideCmdValue    []string `json:"override_cmd_value,omitempty"`
}

// GenericJob is one stage-image execution belonging to a reaction.
type GenericJob struct {
	ID         string `json:"id"` // UUID v4
	ReactionID string `json:"reaction_id"`
	Group      string `json:"group"`
	Pipeline   string `json:"pipeline"`
	Stage      string `json:"stage"`
	Image      string `json:"image"`
	Creator    string `json:"creator"`

	Args JobArgs `json:"args"`

	Status   JobStatus `json:"status"`
	Deadline time.Time `json:"deadline"`
	Worker   *string   `json:"worker,omitempty"`

	Parent    *string `json:"parent,omitempty"`
	Generator bool    `json:"generator"`

	Scaler ScalerKind `json:"scaler"`

	Samples         []string          `json:"samples,omitempty"`
	Ephemeral       []string          `json:"ephemeral,omitempty"`
	ParentEphemeral map[string]string `json:"parent_ephemeral,omitempty"`
	Repos           []RepoDependency  `json:"repos,omitempty"`
	TriggerDepth    int               `json:"trigger_depth"`

	// Checkpoint is set by sleep()/checkpoint() and stays on the same job
	// row when a sleeping generator is claimed again.
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Claimable reports whether the job is Created and its deadline has passed.
// It does not cover Sleeping jobs, which claim() also accepts.
func (j *GenericJob) Claimable(now time.Time) bool {
	return j.Status == JobCreated && !j.Deadline.After(now)
}
