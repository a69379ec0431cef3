package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/thorium-sh/thorium/pkg/engine"
	"github.com/thorium-sh/thorium/pkg/models"
)

// Claim pops up to count jobs for (group, pipeline, stage) onto the
// calling worker, mirroring PATCH /jobs/claim/... (spec.md §6).
func (c *Client) Claim(ctx context.Context, group, pipeline, stage, cluster, node, worker string, count int) ([]models.GenericJob, error) {
	path := "/jobs/claim/" + pathEscape(group, pipeline, stage, cluster, node, worker) + "/" + strconv.Itoa(count)
	var jobs []models.GenericJob
	if err := c.do(ctx, "PATCH", path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

type statusResponse struct {
	Status models.JobHandleStatus `json:"status"`
}

// Proceed reports a job finished its stage successfully, mirroring
// POST /jobs/handle/{id}/proceed/{runtime} (spec.md §6).
func (c *Client) Proceed(ctx context.Context, jobID string, logs []string, runtimeSecs float64) (models.JobHandleStatus, error) {
	path := fmt.Sprintf("/jobs/handle/%s/proceed/%s", url.PathEscape(jobID), strconv.FormatFloat(runtimeSecs, 'f', -1, 64))
	var out statusResponse
	if err := c.do(ctx, "POST", path, map[string][]string{"logs": logs}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Error reports a job failed, mirroring POST /jobs/handle/{id}/error.
func (c *Client) Error(ctx context.Context, jobID, reason string, logs []string) (models.JobHandleStatus, error) {
	path := "/jobs/handle/" + url.PathEscape(jobID) + "/error"
	body := struct {
		Reason string   `json:"reason"`
		Logs   []string `json:"logs"`
	}{reason, logs}
	var out statusResponse
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Sleep parks a generator job with a checkpoint to resume from, mirroring
// POST /jobs/handle/{id}/sleep.
func (c *Client) Sleep(ctx context.Context, jobID, data string, resumeAfter time.Duration, logs []string) (models.JobHandleStatus, error) {
	path := "/jobs/handle/" + url.PathEscape(jobID) + "/sleep"
	body := struct {
		Data            string   `json:"data"`
		ResumeAfterSecs int64    `json:"resume_after_secs"`
		Logs            []string `json:"logs"`
	}{data, int64(resumeAfter.Seconds()), logs}
	var out statusResponse
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Checkpoint persists progress for a long-running job without ending its
// stage, mirroring POST /jobs/handle/{id}/checkpoint.
func (c *Client) Checkpoint(ctx context.Context, jobID, data string) (models.JobHandleStatus, error) {
	path := "/jobs/handle/" + url.PathEscape(jobID) + "/checkpoint"
	body := struct {
		Data string `json:"data"`
	}{data}
	var out statusResponse
	if err := c.do(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Deadlines pages the per-scaler deadline stream, mirroring
// GET /jobs/deadlines/{scaler}/{start}/{end}?limit= (spec.md §6).
func (c *Client) Deadlines(ctx context.Context, scaler models.ScalerKind, start, end time.Time, limit int64) ([]engine.Deadline, error) {
	path := "/jobs/deadlines/" + pathEscape(string(scaler), start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	path += "?limit=" + strconv.FormatInt(limit, 10)
	var out []engine.Deadline
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Running pages the per-scaler running stream, mirroring
// GET /jobs/bulk/running/{scaler}/{start}/{end}?limit= (spec.md §6).
func (c *Client) Running(ctx context.Context, scaler models.ScalerKind, start, end time.Time, limit int64) ([]engine.RunningJob, error) {
	path := "/jobs/bulk/running/" + pathEscape(string(scaler), start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	path += "?limit=" + strconv.FormatInt(limit, 10)
	var out []engine.RunningJob
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkReset resets an explicit list of job ids back to Created regardless
// of reaction/stage, mirroring POST /jobs/bulk/reset (spec.md §6). Used by
// the reactor's startup recovery sweep and by operator tooling.
func (c *Client) BulkReset(ctx context.Context, ids []string, scaler models.ScalerKind, reason string) error {
	return c.do(ctx, "POST", "/jobs/bulk/reset", engine.JobResets{IDs: ids, Scaler: scaler, Reason: reason}, nil)
}
