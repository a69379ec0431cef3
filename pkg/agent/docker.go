package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	apiclient "github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// DockerExecutor runs a job inside a container, grounded on
// common.ContainerRun/ContainerRunFromEnv's create-start-wait-logs idiom
// from the pack's Docker example. The job's isolated directory is bind
// mounted into the container at the identical host path so the image's
// Output paths (already rewritten host-side by isolate()) resolve the same
// way whether a result file is read from inside or outside the container.
type DockerExecutor struct {
	cfg     config.AgentConfig
	thorium *apiclient.Client
	image   models.Image
	jobID   string
	jobDir  string
	deps    *deps
	log     *slog.Logger

	docker      *client.Client
	containerID string
}

// NewDockerExecutor builds a DockerExecutor for a single job, dialing the
// local Docker daemon the same way common.CtxCli does (NewClientWithOpts
// with FromEnv, so DOCKER_HOST/DOCKER_TLS_VERIFY etc. behave normally).
func NewDockerExecutor(cfg config.AgentConfig, thorium *apiclient.Client, img models.Image, jobID string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("agent: connecting to docker: %w", err)
	}
	jobDir := filepath.Join(cfg.BaseDir, jobID)
	return &DockerExecutor{
		cfg:     cfg,
		thorium: thorium,
		image:   img,
		jobID:   jobID,
		jobDir:  jobDir,
		deps:    newDeps(thorium, jobDir),
		log:     slog.With("component", "agent", "executor", "docker", "job", jobID),
		docker:  cli,
	}, nil
}

func (e *DockerExecutor) ResultPaths(img models.Image, jobID string) (string, string) {
	return isolate(img.Output.ResultsFile, jobID), isolate(img.Output.ResultFilesDir, jobID)
}

// Setup is identical in shape to BareMetalExecutor.Setup; both executors
// share the same *deps helper and only differ in how the command is run.
func (e *DockerExecutor) Setup(ctx context.Context, job models.GenericJob) (map[string]string, error) {
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
		if _, err := e.deps.downloadResults(ctx, e.image, job, resultDependencyTools(e.image)); err != nil {
			return nil, err
		}
	}
	if _, err := e.deps.downloadChildren(ctx, e.image, job); err != nil {
		return nil, err
	}
	return commits, nil
}

// Execute pulls the image if needed, creates a container with the job
// directory bind mounted in at its own host path, and starts it, streaming
// demultiplexed stdout/stderr into logFile the way common.ContainerRun
// reads ContainerLogs after the container exits — except here the copy
// runs concurrently so monitor() can tail a growing file.
func (e *DockerExecutor) Execute(ctx context.Context, img models.Image, job models.GenericJob, logFile string) (InFlight, error) {
	args := buildCommand(img.Command, job.Args)
	if len(args) == 0 {
		return nil, fmt.Errorf("agent: image %s has an empty command", img.Key())
	}
	if err := ensureDir(logFile); err != nil {
		return nil, err
	}

	if _, _, err := e.docker.ImageInspectWithRaw(ctx, img.ContainerImage); err != nil {
		rc, err := e.docker.ImagePull(ctx, img.ContainerImage, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("agent: pulling image %s: %w", img.ContainerImage, err)
		}
		if _, err := io.Copy(io.Discard, rc); err != nil {
			rc.Close()
			return nil, fmt.Errorf("agent: pulling image %s: %w", img.ContainerImage, err)
		}
		rc.Close()
	}

	resp, err := e.docker.ContainerCreate(ctx,
		&container.Config{
			Image:        img.ContainerImage,
			Cmd:          args,
			WorkingDir:   e.jobDir,
			AttachStdout: true,
			AttachStderr: true,
		},
		&container.HostConfig{
			AutoRemove: false,
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: e.jobDir,
				Target: e.jobDir,
			}},
		},
		nil, &ocispec.Platform{}, "thorium-"+job.ID)
	if err != nil {
		return nil, fmt.Errorf("agent: creating container for job %s: %w", job.ID, err)
	}
	e.containerID = resp.ID

	out, err := os.Create(logFile)
	if err != nil {
		return nil, fmt.Errorf("agent: creating log file %s: %w", logFile, err)
	}

	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		out.Close()
		return nil, fmt.Errorf("agent: starting container for job %s: %w", job.ID, err)
	}

	logs, err := e.docker.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true, ShowStderr: true, Follow: true,
	})
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("agent: attaching to logs for job %s: %w", job.ID, err)
	}
	go func() {
		defer logs.Close()
		defer out.Close()
		if _, err := stdcopy.StdCopy(out, out, logs); err != nil && err != io.EOF {
			e.log.Warn("log stream ended with error", slog.Any("error", err))
		}
	}()

	return &containerInFlight{docker: e.docker, containerID: resp.ID}, nil
}

func (e *DockerExecutor) Results(ctx context.Context, img models.Image, jobID string) (RawResults, error) {
	return readResultsFile(e.ResultPaths(img, jobID))
}

func (e *DockerExecutor) Tags(ctx context.Context, img models.Image, job models.GenericJob) (map[string][]string, error) {
	return readTagsFile(isolate(img.Output.TagsFile, job.ID))
}

func (e *DockerExecutor) Children(ctx context.Context, img models.Image, jobID string) (map[string]string, error) {
	return readChildrenDir(isolate(img.Output.ChildrenDir, jobID))
}

// CleanUp removes the container (best effort — AutoRemove isn't set
// because the log-copy goroutine needs the container to outlive Execute)
// and the job's isolated directory.
func (e *DockerExecutor) CleanUp(ctx context.Context, img models.Image, job models.GenericJob) error {
	if e.containerID != "" {
		if err := e.docker.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true}); err != nil {
			e.log.Warn("failed to remove container", slog.Any("error", err))
		}
	}
	if err := os.RemoveAll(e.jobDir); err != nil {
		return fmt.Errorf("agent: removing job dir %s: %w", e.jobDir, err)
	}
	return nil
}

// containerInFlight adapts a running container to InFlight by polling its
// state via ContainerInspect, mirroring common.ContainerRun's
// ContainerWait/statusCh pattern but non-blocking so monitor() can
// interleave log pumps and timeout checks between polls.
type containerInFlight struct {
	docker      *client.Client
	containerID string

	finished bool
	status   JobStatus
	code     ExitCode
}

func (c *containerInFlight) Poll(ctx context.Context) (JobStatus, ExitCode, error) {
	if c.finished {
		return c.status, c.code, nil
	}
	info, err := c.docker.ContainerInspect(ctx, c.containerID)
	if err != nil {
		return JobFailed, None, fmt.Errorf("agent: inspecting container %s: %w", c.containerID, err)
	}
	if info.State.Running {
		return JobOnGoing, None, nil
	}
	c.finished = true
	if info.State.ExitCode == 0 {
		c.status, c.code = JobFinished, ExitCode{Valid: true, Code: 0}
	} else {
		c.status, c.code = JobFailed, ExitCode{Valid: true, Code: info.State.ExitCode}
	}
	return c.status, c.code, nil
}

func (c *containerInFlight) Cancel(ctx context.Context) error {
	timeout := 5
	return c.docker.ContainerStop(ctx, c.containerID, container.StopOptions{Timeout: &timeout})
}
