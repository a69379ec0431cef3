// Package agent implements Thorium's agent (C7): the per-job process a
// reactor-launched worker runs to materialize an image's dependencies,
// execute its command, ship logs, and collect/submit results (spec.md
// §4.4). Grounded on original_source/agent/src/libs/agents.rs's
// Agent/AgentExecutor split and original_source/agent/src/libs/agents/
// setup.rs's dependency-download helpers, generalizing the teacher's
// pkg/queue/worker.go poll-claim-execute loop from an in-process
// goroutine pool onto a standalone binary that claims and runs exactly
// the jobs its own worker name was assigned.
package agent

import (
	"context"
	"os/exec"

	"github.com/thorium-sh/thorium/pkg/models"
)

// JobStatus is the outcome of one in-flight execution.
type JobStatus int

// Job statuses an Executor's wait reports, mirroring the original's
// JobStatus enum and spec.md §4.4's exit-code mapping.
const (
	JobOnGoing JobStatus = iota
	JobFinished
	JobFailed
)

// ExitCode is a process exit code that may be absent (killed by signal,
// or the executor has no concept of one — e.g. a still-starting
// container).
type ExitCode struct {
	Code  int
	Valid bool
}

// Code wraps an int as a valid ExitCode.
func Code(n int) ExitCode { return ExitCode{Code: n, Valid: true} }

// None is the absent exit code (job killed by signal or timed out).
var None = ExitCode{}

// InFlight is a handle to a job's executing process, polled by Monitor
// until it reports anything other than JobOnGoing.
type InFlight interface {
	// Poll checks whether the job has finished without blocking long;
	// callers loop this on a short interval (spec.md §4.4 "poll ... every
	// 100ms").
	Poll(ctx context.Context) (JobStatus, ExitCode, error)
	// Cancel forcibly terminates the job, used on timeout.
	Cancel(ctx context.Context) error
}

// Executor is the capability record one launcher backend implements to
// run a job in its own environment, mirroring the original's
// AgentExecutor trait (agents.rs). BareMetal runs the command directly
// via os/exec; Docker backs both the K8s pod sidecar path and Windows
// containers (the original's K8s executor is reused for both, per
// get_executor's Windows/Kvm branches); Kvm drives a libvirt domain.
type Executor interface {
	// ResultPaths returns the (results-file, result-files-dir) paths this
	// executor will look for once the job's process exits.
	ResultPaths(image models.Image, jobID string) (resultsFile, resultFilesDir string)

	// Setup materializes this job's dependencies (samples, ephemeral
	// files, repos, tags, prior results, children) into the job's working
	// directory and returns the repo URL -> checked-out-commit map
	// collected along the way.
	Setup(ctx context.Context, job models.GenericJob) (commits map[string]string, err error)

	// Execute constructs the command line from the image's template
	// layered with the job's args and starts it, redirecting
	// stdout+stderr to logFile.
	Execute(ctx context.Context, image models.Image, job models.GenericJob, logFile string) (InFlight, error)

	// Results reads the results file and result-files dir left behind by
	// a successfully-exited job.
	Results(ctx context.Context, image models.Image, jobID string) (RawResults, error)

	// Tags reads the tags file, if the image's output settings name one,
	// returning tag key -> values to submit.
	Tags(ctx context.Context, image models.Image, job models.GenericJob) (map[string][]string, error)

	// Children walks the children dir, returning child name -> local path
	// for each file the job produced there.
	Children(ctx context.Context, image models.Image, jobID string) (map[string]string, error)

	// CleanUp releases anything this executor allocated for the job
	// (isolated directories, containers, domains).
	CleanUp(ctx context.Context, image models.Image, job models.GenericJob) error
}

// RawResults is what an Executor.Results call returns: the primary result
// bytes plus the local paths of files the Collect stage should attach.
type RawResults struct {
	Result      []byte
	ResultFiles []string
	Tool        string
	ToolVersion string
	Cmd         []string
	Display     models.DisplayType
}

// checkExitErr classifies an *exec.ExitError into the Finished/Failed
// split spec.md §4.4 names: code 0 is Finished, anything else (including
// a signal, surfaced on Linux/macOS as a negative or absent code) is
// Failed.
func checkExitErr(err error) (JobStatus, ExitCode) {
	if err == nil {
		return JobFinished, Code(0)
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			if code == 0 {
				return JobFinished, Code(code)
			}
			return JobFailed, Code(code)
		}
		// negative ExitCode means the process was terminated by a signal;
		// exec doesn't expose the signal number portably, so report None.
		return JobFailed, None
	}
	return JobFailed, None
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}
