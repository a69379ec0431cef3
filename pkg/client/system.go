package client

import (
	"context"

	"github.com/thorium-sh/thorium/pkg/kvindex"
)

// BackupKV fetches a full logical backup of the key-value index, mirroring
// GET /system/backup. thoradm writes the result straight to disk as part
// of a cluster backup (spec.md §4.6).
func (c *Client) BackupKV(ctx context.Context) ([]kvindex.KeyDump, error) {
	var dumps []kvindex.KeyDump
	if err := c.do(ctx, "GET", "/system/backup", nil, &dumps); err != nil {
		return nil, err
	}
	return dumps, nil
}

// RestoreKV replays a BackupKV snapshot, mirroring POST /system/restore.
// Destructive: every key the snapshot names is overwritten.
func (c *Client) RestoreKV(ctx context.Context, dumps []kvindex.KeyDump) error {
	return c.do(ctx, "POST", "/system/restore", dumps, nil)
}
