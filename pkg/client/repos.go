package client

import (
	"context"
	"net/url"
)

// DownloadRepo fetches a repo archive at a resolved commitish, mirroring
// GET /repos/{url}/download?commitish=. Cloning/unpacking the archive is
// the agent's job (archive/tar over the returned bytes); this call only
// covers the network fetch, the one piece of spec.md §6's external
// interface that is in scope (the git plumbing behind it is not).
func (c *Client) DownloadRepo(ctx context.Context, repoURL, commitish string) ([]byte, error) {
	return c.getBytes(ctx, "/repos/"+pathEscape(repoURL)+"/download?commitish="+url.QueryEscape(commitish))
}
