package engine

import "github.com/thorium-sh/thorium/pkg/models"

// Requestor distinguishes who asked for a bulk reset, so audit trails can
// tell a reactor-initiated recovery from an operator-initiated one.
// Supplemented from original_source/api/src/models/jobs.rs (SPEC_FULL.md §D).
type Requestor struct {
	// Component names the system component issuing the reset (e.g.
	// "reactor", "scaler"). Empty when User is set instead.
	Component string
	// User names the operator issuing the reset. Empty when Component is
	// set instead.
	User string
}

func (r Requestor) String() string {
	if r.Component != "" {
		return "component:" + r.Component
	}
	if r.User != "" {
		return "user:" + r.User
	}
	return "unknown"
}

// CreateRequest is the input to Create: everything a caller supplies about
// a new reaction before the engine assigns ids, deadlines, and expands the
// first stage into jobs.
type CreateRequest struct {
	Group    string `json:"group"`
	Pipeline string `json:"pipeline"`
	Creator  string `json:"creator"`

	Args map[string]models.JobArgs `json:"args,omitempty"`

	Parent       *string `json:"parent,omitempty"`
	TriggerDepth int     `json:"trigger_depth"`

	Samples         []string                `json:"samples,omitempty"`
	Repos           []models.RepoDependency `json:"repos,omitempty"`
	Ephemeral       []string                `json:"ephemeral,omitempty"`
	ParentEphemeral map[string]string       `json:"parent_ephemeral,omitempty"`
}

// Deadline pairs a job id with the timestamp it was queued under, the
// shape the deadlines() API returns (spec.md §4.1).
type Deadline struct {
	JobID string `json:"job_id"`
	At    string `json:"at"` // RFC3339Nano, matches the wire contract's JSON timestamp
}

// RunningJob pairs a job with the time it was claimed, the shape the
// bulk/running() API returns (spec.md §6 GET /jobs/bulk/running).
type RunningJob struct {
	Job       models.GenericJob `json:"job"`
	ClaimedAt string            `json:"claimed_at"` // RFC3339Nano
}

// JobResets is the body of POST /jobs/bulk/reset (spec.md §6): an explicit
// list of job ids to reset regardless of which reaction or stage they
// belong to, distinct from the reaction-scoped Engine.BulkReset.
type JobResets struct {
	IDs    []string          `json:"ids"`
	Scaler models.ScalerKind `json:"scaler"`
	Reason string            `json:"reason"`
}
