package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Agent supervises one job end to end: setup, execute, monitor, collect,
// finalize. Grounded on original_source/agent/src/libs/agents.rs's Agent
// struct and its sub_execute/execute pair.
type Agent struct {
	thorium  *client.Client
	image    models.Image
	job      models.GenericJob
	executor Executor
	cfg      config.AgentConfig

	mu    sync.Mutex
	lines []string

	fileBacklog []string

	runtime *float64
	log     *slog.Logger
}

// NewAgent builds an Agent ready to run a single claimed job.
func NewAgent(cfg config.AgentConfig, thorium *client.Client, image models.Image, job models.GenericJob, executor Executor) *Agent {
	return &Agent{
		thorium:  thorium,
		image:    image,
		job:      job,
		executor: executor,
		cfg:      cfg,
		log:      slog.With("component", "agent", "job", job.ID, "image", image.Key()),
	}
}

// logf queues a line for the next log pump, mirroring the original's
// unbounded crossbeam channel of agent-emitted lines (distinct from the
// on-disk file the job's own stdout/stderr is redirected to).
func (a *Agent) logf(format string, args ...any) {
	a.mu.Lock()
	a.lines = append(a.lines, fmt.Sprintf(format, args...))
	a.mu.Unlock()
}

// sendChannelLogs ships everything queued via logf.
func (a *Agent) sendChannelLogs(ctx context.Context) error {
	a.mu.Lock()
	lines := a.lines
	a.lines = nil
	a.mu.Unlock()

	remaining, err := a.shipLines(ctx, lines)
	if len(remaining) > 0 {
		a.mu.Lock()
		a.lines = append(remaining, a.lines...)
		a.mu.Unlock()
	}
	return err
}

// shipLines batches lines up to cfg.LogShipMaxBytes per AddLogs call and
// stops after cfg.LogShipMaxBatch calls, returning whatever wasn't sent
// (spec.md §4.4 "ship them ... in batches of up to 10 x 100 KiB per cycle").
func (a *Agent) shipLines(ctx context.Context, lines []string) ([]string, error) {
	var batch []string
	size := 0
	batches := 0
	for i, line := range lines {
		batch = append(batch, line)
		size += len(line)
		if size >= a.cfg.LogShipMaxBytes {
			if err := a.thorium.AddLogs(ctx, a.job.ID, batch); err != nil {
				return lines[i+1:], err
			}
			batch = nil
			size = 0
			batches++
			if batches >= a.cfg.LogShipMaxBatch {
				return lines[i+1:], nil
			}
		}
	}
	if len(batch) > 0 {
		if err := a.thorium.AddLogs(ctx, a.job.ID, batch); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// sendFileLogs ships every complete line newly appended to the job's
// stdout+stderr log file, same batching rule as sendChannelLogs: lines past
// one cycle's cap wait for the next call, and a final call sends them all.
func (a *Agent) sendFileLogs(ctx context.Context, tail *fileTail, final bool) error {
	lines, err := tail.readLines()
	if err != nil {
		return err
	}
	if final {
		lines = append(lines, tail.flush()...)
	}
	lines = append(a.fileBacklog, lines...)
	for len(lines) > 0 {
		lines, err = a.shipLines(ctx, lines)
		if err != nil || !final {
			break
		}
	}
	a.fileBacklog = lines
	return err
}

// monitor polls the job every 100ms, pumping both log sources each tick,
// enforcing the image's timeout, mirroring agents.rs's monitor().
func (a *Agent) monitor(ctx context.Context, inFlight InFlight, tail *fileTail) (JobStatus, ExitCode, error) {
	start := time.Now()
	var deadline time.Time
	hasTimeout := a.image.TimeoutSecs > 0
	if hasTimeout {
		deadline = start.Add(time.Duration(a.image.TimeoutSecs) * time.Second)
	}

	for {
		if err := a.sendFileLogs(ctx, tail, false); err != nil {
			return JobFailed, None, err
		}

		status, code, err := inFlight.Poll(ctx)
		if err != nil {
			return JobFailed, None, err
		}
		switch status {
		case JobFinished:
			runtime := time.Since(start).Seconds()
			a.runtime = &runtime
			a.log.Info("job finished", slog.Int("code", code.Code))
			return JobFinished, code, nil
		case JobFailed:
			a.log.Info("job failed", slog.Bool("has_code", code.Valid), slog.Int("code", code.Code))
			return JobFailed, code, nil
		}

		if hasTimeout && time.Now().After(deadline) {
			a.log.Info("job timed out")
			a.logf("Execution time limit exceeded")
			if err := inFlight.Cancel(ctx); err != nil {
				return JobFailed, None, err
			}
			return JobFailed, None, nil
		}

		select {
		case <-ctx.Done():
			return JobFailed, None, ctx.Err()
		case <-time.After(a.cfg.PollInterval):
		}
	}
}

// proceed tells the API this job's stage completed, mirroring agents.rs's
// proceed(): a job with no runtime recorded (monitor never saw it finish
// successfully, e.g. a non-zero exit or a timeout) is reported as an error
// instead.
func (a *Agent) proceed(ctx context.Context) error {
	a.mu.Lock()
	lines := a.lines
	a.lines = nil
	a.mu.Unlock()

	if a.runtime == nil {
		_, err := a.thorium.Error(ctx, a.job.ID, "job never produced a runtime", lines)
		return err
	}
	_, err := a.thorium.Proceed(ctx, a.job.ID, lines, *a.runtime)
	return err
}

// fail tells the API this job's stage failed with an error message,
// mirroring agents.rs's error(): channel logs first, then any remaining
// file logs, then the error reason itself.
func (a *Agent) fail(ctx context.Context, tail *fileTail, cause error) error {
	if err := a.sendChannelLogs(ctx); err != nil {
		a.log.Warn("failed to flush channel logs before error", slog.Any("error", err))
	}
	if tail != nil {
		if err := a.sendFileLogs(ctx, tail, true); err != nil {
			a.log.Warn("failed to flush file logs before error", slog.Any("error", err))
		}
	}
	a.mu.Lock()
	lines := a.lines
	a.lines = nil
	a.mu.Unlock()
	lines = append(lines, fmt.Sprintf("Error: %s", cause))
	_, err := a.thorium.Error(ctx, a.job.ID, cause.Error(), lines)
	return err
}

// subExecute runs one job to completion: setup, execute, monitor, collect.
// Mirrors agents.rs's sub_execute exactly in shape.
func (a *Agent) subExecute(ctx context.Context, logPath string) error {
	commits, err := a.executor.Setup(ctx, a.job)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	_ = commits // repo->commit map; no consumer needs it beyond setup in this port

	inFlight, err := a.executor.Execute(ctx, a.image, a.job, logPath)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if err := a.sendChannelLogs(ctx); err != nil {
		a.log.Warn("failed to flush channel logs after execute", slog.Any("error", err))
	}

	tail, err := newFileTail(logPath)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer tail.Close()

	status, code, err := a.monitor(ctx, inFlight, tail)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if err := a.sendFileLogs(ctx, tail, true); err != nil {
		a.log.Warn("failed to flush final file logs", slog.Any("error", err))
	}

	if status == JobFinished {
		raw, err := a.executor.Results(ctx, a.image, a.job.ID)
		if err != nil {
			return fmt.Errorf("collecting results: %w", err)
		}
		if err := a.sendChannelLogs(ctx); err != nil {
			a.log.Warn("failed to flush channel logs before collect", slog.Any("error", err))
		}
		if err := collect(ctx, a.thorium, a.executor, a.image, a.job, raw); err != nil {
			return fmt.Errorf("collect: %w", err)
		}
	}

	if code.Valid {
		a.logf("Return Code: %d", code.Code)
	} else {
		a.logf("Return Code: None")
	}
	if err := a.sendChannelLogs(ctx); err != nil {
		a.log.Warn("failed to flush final channel logs", slog.Any("error", err))
	}
	return a.executor.CleanUp(ctx, a.image, a.job)
}

// Run executes this agent's job and reports the outcome, mirroring
// agents.rs's top-level execute(): setup/monitor/collect failures are
// reported as job errors rather than propagated, so one bad job never
// crashes the worker process.
func (a *Agent) Run(ctx context.Context, logPath string) {
	defer os.Remove(logPath)

	err := a.subExecute(ctx, logPath)
	if err == nil {
		a.log.Info("proceeding with reaction")
		if perr := a.proceed(ctx); perr != nil {
			a.log.Error("failed to report job completion", slog.Any("error", perr))
		}
		return
	}

	a.log.Info("job failed", slog.Any("error", err))
	if cerr := a.executor.CleanUp(ctx, a.image, a.job); cerr != nil {
		a.log.Error("failed to clean up after failed job", slog.Any("error", cerr))
	}
	tail, tailErr := newFileTail(logPath)
	if tailErr != nil {
		tail = nil
	}
	if ferr := a.fail(ctx, tail, err); ferr != nil {
		a.log.Error("failed to report job failure", slog.Any("error", ferr))
	}
	if tail != nil {
		tail.Close()
	}
}
