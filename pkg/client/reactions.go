package client

import (
	"context"

	"github.com/thorium-sh/thorium/pkg/engine"
)

type createReactionResponse struct {
	ID string `json:"id"`
}

// CreateReaction submits a new reaction, mirroring POST /reactions.
func (c *Client) CreateReaction(ctx context.Context, req engine.CreateRequest) (string, error) {
	var out createReactionResponse
	if err := c.do(ctx, "POST", "/reactions", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// DownloadEphemeral fetches one named ephemeral file staged for a
// reaction, mirroring GET /reactions/{group}/{reaction}/ephemeral/{name}.
// The agent's Setup stage uses this both for a job's own reaction
// (GenericJob.Ephemeral) and for its parent's (GenericJob.ParentEphemeral).
func (c *Client) DownloadEphemeral(ctx context.Context, group, reaction, name string) ([]byte, error) {
	return c.getBytes(ctx, "/reactions/"+pathEscape(group, reaction, "ephemeral", name))
}

// UploadEphemeral stages one named ephemeral file for a reaction,
// mirroring PUT /reactions/{group}/{reaction}/ephemeral/{name}.
func (c *Client) UploadEphemeral(ctx context.Context, group, reaction, name string, data []byte) error {
	return c.putBytes(ctx, "/reactions/"+pathEscape(group, reaction, "ephemeral", name), data)
}

// AddLogs ships one mid-stage log batch for a still-running job, mirroring
// POST /jobs/handle/{id}/logs (spec.md §4.4 monitor() log shipment). This
// is distinct from the final batch Proceed/Error append on job completion.
func (c *Client) AddLogs(ctx context.Context, jobID string, logs []string) error {
	return c.do(ctx, "POST", "/jobs/handle/"+pathEscape(jobID)+"/logs", logsBody{Logs: logs}, nil)
}

type logsBody struct {
	Logs []string `json:"logs"`
}
