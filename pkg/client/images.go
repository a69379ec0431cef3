package client

import (
	"context"

	"github.com/thorium-sh/thorium/pkg/models"
)

// GetImage fetches an image's full definition, mirroring
// GET /images/{group}/{name}. The agent calls this once per claimed job to
// learn the command template, dependency settings, and output paths a bare
// job name alone doesn't carry.
func (c *Client) GetImage(ctx context.Context, group, name string) (models.Image, error) {
	var img models.Image
	if err := c.do(ctx, "GET", "/images/"+pathEscape(group, name), nil, &img); err != nil {
		return models.Image{}, err
	}
	return img, nil
}
