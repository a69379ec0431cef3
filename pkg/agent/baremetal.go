package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// BareMetalExecutor runs a job as a direct child process of the agent,
// grounded on pkg/reactor/baremetal.go's process-handling idiom (the
// reactor already cgroup-isolated the agent itself; a bare-metal job's
// child inherits that cgroup by normal Linux pid-tree membership, so this
// executor needs no cgroup code of its own).
type BareMetalExecutor struct {
	cfg     config.AgentConfig
	thorium *client.Client
	image   models.Image
	jobID   string
	jobDir  string
	deps    *deps
	log     *slog.Logger

	cmd *exec.Cmd
}

// NewBareMetalExecutor builds a BareMetalExecutor for a single job,
// isolating its working directory under cfg.BaseDir/<jobID>.
func NewBareMetalExecutor(cfg config.AgentConfig, thorium *client.Client, image models.Image, jobID string) *BareMetalExecutor {
	jobDir := filepath.Join(cfg.BaseDir, jobID)
	return &BareMetalExecutor{
		cfg:     cfg,
		thorium: thorium,
		image:   image,
		jobID:   jobID,
		jobDir:  jobDir,
		deps:    newDeps(thorium, jobDir),
		log:     slog.With("component", "agent", "executor", "bare_metal", "job", jobID),
	}
}

func (e *BareMetalExecutor) ResultPaths(image models.Image, jobID string) (string, string) {
	return isolate(image.Output.ResultsFile, jobID), isolate(image.Output.ResultFilesDir, jobID)
}

// Setup materializes every dependency kind this image declares, mirroring
// setup.rs's call order (samples, ephemeral, repos, tags, results,
// children) and returning the repo->commit map collected along the way;
// subExecute does not use that map after setup.
func (e *BareMetalExecutor) Setup(ctx context.Context, job models.GenericJob) (map[string]string, error) {
	if _, err := e.deps.downloadSamples(ctx, e.image, job); err != nil {
		return nil, err
	}
	if _, err := e.deps.downloadEphemeral(ctx, e.image, job); err != nil {
		return nil, err
	}
	_, commits, err := e.deps.downloadRepos(ctx, e.image, job)
	if err != nil {
		return nil, err
	}
	if _, err := e.deps.downloadTags(ctx, e.image, job); err != nil {
		return nil, err
	}
	if !e.image.Deps.Results.Disabled() {
		tools := resultDependencyTools(e.image)
		if _, err := e.deps.downloadResults(ctx, e.image, job, tools); err != nil {
			return nil, err
		}
	}
	if _, err := e.deps.downloadChildren(ctx, e.image, job); err != nil {
		return nil, err
	}
	return commits, nil
}

// resultDependencyTools has no dedicated image field listing which tools'
// prior results to fetch (ImageDependencies.Results is a plain
// DependencySettings, not a name-filtered list); this port fetches every
// tool named in the image's own command template kwargs/switches is not
// meaningful here, so it simply reuses the image's own name as the one
// tool whose prior results are relevant — the common case of a tool
// depending on its own previous run (DESIGN.md simplification).
func resultDependencyTools(image models.Image) []string {
	return []string{image.Name}
}

// Execute builds the job's command line and starts it with stdout+stderr
// redirected to logFile, mirroring spec.md §4.4 step 2.
func (e *BareMetalExecutor) Execute(ctx context.Context, image models.Image, job models.GenericJob, logFile string) (InFlight, error) {
	args := buildCommand(image.Command, job.Args)
	if len(args) == 0 {
		return nil, fmt.Errorf("agent: image %s has an empty command", image.Key())
	}
	if err := ensureDir(logFile); err != nil {
		return nil, err
	}
	out, err := os.Create(logFile)
	if err != nil {
		return nil, fmt.Errorf("agent: creating log file %s: %w", logFile, err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = e.jobDir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("agent: starting job command: %w", err)
	}
	e.cmd = cmd
	return &processInFlight{cmd: cmd, logFile: out}, nil
}

func (e *BareMetalExecutor) Results(ctx context.Context, image models.Image, jobID string) (RawResults, error) {
	return readResultsFile(e.ResultPaths(image, jobID))
}

func (e *BareMetalExecutor) Tags(ctx context.Context, image models.Image, job models.GenericJob) (map[string][]string, error) {
	return readTagsFile(isolate(image.Output.TagsFile, job.ID))
}

func (e *BareMetalExecutor) Children(ctx context.Context, image models.Image, jobID string) (map[string]string, error) {
	return readChildrenDir(isolate(image.Output.ChildrenDir, jobID))
}

// readResultsFile parses a job's results file and lists its result-files
// directory, shared by every Executor implementation since all of them
// isolate output onto the host filesystem (a container's bind mount or a
// VM's shared folder resolves to the same host path).
func readResultsFile(resultsFile, resultFilesDir string) (RawResults, error) {
	data, err := os.ReadFile(resultsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return RawResults{}, nil
		}
		return RawResults{}, fmt.Errorf("agent: reading results file %s: %w", resultsFile, err)
	}
	var parsed struct {
		Tool        string             `json:"tool"`
		ToolVersion string             `json:"tool_version"`
		Cmd         []string           `json:"cmd"`
		Result      json.RawMessage    `json:"result"`
		Display     models.DisplayType `json:"display"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return RawResults{}, fmt.Errorf("agent: parsing results file %s: %w", resultsFile, err)
	}
	var names []string
	entries, err := os.ReadDir(resultFilesDir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				names = append(names, filepath.Join(resultFilesDir, entry.Name()))
			}
		}
	}
	return RawResults{
		Result:      []byte(parsed.Result),
		ResultFiles: names,
		Tool:        parsed.Tool,
		ToolVersion: parsed.ToolVersion,
		Cmd:         parsed.Cmd,
		Display:     parsed.Display,
	}, nil
}

func readTagsFile(tagsFile string) (map[string][]string, error) {
	if tagsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(tagsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agent: reading tags file %s: %w", tagsFile, err)
	}
	var tags map[string][]string
	if err := json.Unmarshal(bytes.TrimSpace(data), &tags); err != nil {
		return nil, fmt.Errorf("agent: parsing tags file %s: %w", tagsFile, err)
	}
	return tags, nil
}

func readChildrenDir(childrenDir string) (map[string]string, error) {
	if childrenDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(childrenDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agent: reading children dir %s: %w", childrenDir, err)
	}
	children := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		children[entry.Name()] = filepath.Join(childrenDir, entry.Name())
	}
	return children, nil
}

// CleanUp removes this job's isolated working directory; unlike the
// reactor's Cleanup (which also runs the image's cleanup.script after the
// agent process itself is gone), the agent's own CleanUp only tears down
// what it created locally.
func (e *BareMetalExecutor) CleanUp(ctx context.Context, image models.Image, job models.GenericJob) error {
	if err := os.RemoveAll(e.jobDir); err != nil {
		return fmt.Errorf("agent: removing job dir %s: %w", e.jobDir, err)
	}
	return nil
}

// processInFlight adapts an *exec.Cmd to InFlight via a non-blocking Wait
// goroutine, since os/exec.Cmd.Wait blocks until exit and the monitor loop
// needs to poll without blocking its own log-pump/timeout ticks.
type processInFlight struct {
	cmd     *exec.Cmd
	logFile *os.File

	done     chan error
	once     bool
	finished bool
	status   JobStatus
	code     ExitCode
}

func (p *processInFlight) Poll(ctx context.Context) (JobStatus, ExitCode, error) {
	if p.finished {
		return p.status, p.code, nil
	}
	if !p.once {
		p.once = true
		p.done = make(chan error, 1)
		go func() { p.done <- p.cmd.Wait() }()
	}
	select {
	case err := <-p.done:
		p.logFile.Close()
		p.status, p.code = checkExitErr(err)
		p.finished = true
		return p.status, p.code, nil
	default:
		return JobOnGoing, None, nil
	}
}

func (p *processInFlight) Cancel(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
