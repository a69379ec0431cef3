package client

import (
	"context"
	"net/url"
	"time"

	"github.com/thorium-sh/thorium/pkg/models"
)

type submitResultBody struct {
	Tool        string             `json:"tool"`
	ToolVersion string             `json:"tool_version"`
	Cmd         []string           `json:"cmd"`
	Result      []byte             `json:"result"`
	ResultFiles []string           `json:"result_files"`
	Display     models.DisplayType `json:"display"`
	Children    map[string]string  `json:"children"`
	Groups      []string           `json:"groups"`
}

type submitResultResponse struct {
	ID string `json:"id"`
}

// SubmitResult uploads a tool's output, mirroring POST /results/{kind}/{key}
// (spec.md §4.5). The agent's Collect stage calls this once per tool run.
func (c *Client) SubmitResult(ctx context.Context, kind, key string, out models.Output, groups []string) (string, error) {
	body := submitResultBody{
		Tool:        out.Tool,
		ToolVersion: out.ToolVersion,
		Cmd:         out.Cmd,
		Result:      out.Result,
		ResultFiles: out.ResultFiles,
		Display:     out.Display,
		Children:    out.Children,
		Groups:      groups,
	}
	var resp submitResultResponse
	if err := c.do(ctx, "POST", "/results/"+pathEscape(kind, key), body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetResults lists a key's most-recent-first result stream, optionally
// filtered by group/tool, mirroring GET /results/{kind}/{key}.
func (c *Client) GetResults(ctx context.Context, kind, key string, groups, tools []string) ([]models.Output, error) {
	path := "/results/" + pathEscape(kind, key) + buildQuery(map[string][]string{"groups": groups, "tools": tools})
	var out []models.Output
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTags lists a key's tags, restricted to the given groups, mirroring
// GET /tags/{kind}/{key}?groups=. The agent's tags-dependency download
// uses this to see a sample/repo's existing tags before a job runs.
func (c *Client) GetTags(ctx context.Context, kind, key string, groups []string) ([]models.Tag, error) {
	path := "/tags/" + pathEscape(kind, key) + buildQuery(map[string][]string{"groups": groups})
	var out []models.Tag
	if err := c.do(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTags attaches tags to a key across one or more groups, each with
// its own earliest-visible timestamp, mirroring POST /tags/{kind}/{key}.
func (c *Client) CreateTags(ctx context.Context, kind, key string, tags map[string][]string, earliest map[string]time.Time) error {
	body := struct {
		Tags     map[string][]string `json:"tags"`
		Earliest map[string]string   `json:"earliest"`
	}{Tags: tags, Earliest: make(map[string]string, len(earliest))}
	for group, ts := range earliest {
		body.Earliest[group] = ts.Format(time.RFC3339Nano)
	}
	return c.do(ctx, "POST", "/tags/"+pathEscape(kind, key), body, nil)
}

// DeleteTag removes one tag value from one group, mirroring
// DELETE /tags/{kind}/{group}/{key}/{tagkey}/{tagvalue}.
func (c *Client) DeleteTag(ctx context.Context, kind, group, key, tagKey, tagValue string) error {
	path := "/tags/" + pathEscape(kind, group, key, tagKey, tagValue)
	return c.do(ctx, "DELETE", path, nil, nil)
}

func buildQuery(params map[string][]string) string {
	query := ""
	for name, values := range params {
		for _, v := range values {
			sep := "?"
			if query != "" {
				sep = "&"
			}
			query += sep + name + "=" + url.QueryEscape(v)
		}
	}
	return query
}
