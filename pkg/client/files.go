package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// DownloadSample fetches a content-addressed sample's raw bytes, mirroring
// GET /samples/{sha256}. The agent's Setup stage calls this once per
// GenericJob.Samples entry.
func (c *Client) DownloadSample(ctx context.Context, sha256 string) ([]byte, error) {
	return c.getBytes(ctx, "/samples/"+pathEscape(sha256))
}

// UploadSample content-addresses data into the samples bucket, mirroring
// POST /samples, returning the resulting sha256. The agent's Collect stage
// calls this once per child file a tool produced, before referencing it by
// sha256 in Output.Children.
func (c *Client) UploadSample(ctx context.Context, data []byte) (string, error) {
	body, err := c.postBytes(ctx, "/samples", data)
	if err != nil {
		return "", err
	}
	var resp struct {
		SHA256 string `json:"sha256"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("thorium: decoding upload sample response: %w", err)
	}
	return resp.SHA256, nil
}

// DownloadResultFile fetches one attached file off a prior tool's result,
// mirroring GET /results/{kind}/{key}/{id}/files/{name} (spec.md §4.4
// result-dependency download, original_source/agent's download_results).
func (c *Client) DownloadResultFile(ctx context.Context, kind, key, outputID, name string) ([]byte, error) {
	return c.getBytes(ctx, "/results/"+pathEscape(kind, key, outputID, "files", name))
}

// UploadResultFile attaches one result file to an already-submitted
// output, mirroring PUT /results/{kind}/{key}/{id}/files/{name}. Called
// after SubmitResult, once its server-generated output id is known.
func (c *Client) UploadResultFile(ctx context.Context, kind, key, outputID, name string, data []byte) error {
	return c.putBytes(ctx, "/results/"+pathEscape(kind, key, outputID, "files", name), data)
}
