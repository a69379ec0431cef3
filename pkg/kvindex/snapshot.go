package kvindex

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

// KeyDump is one key's logical backup record: a redis DUMP payload plus
// the TTL it should be restored with. Dump is base64 because the DUMP
// wire format is arbitrary binary and this record travels as JSON over
// the API's logical backup endpoint (spec.md §4.6).
type KeyDump struct {
	Key   string `json:"key"`
	TTLMs int64  `json:"ttl_ms"` // <= 0 means no expiry
	Dump  string `json:"dump"`
}

// Snapshot walks every key under this client's prefix and DUMPs it,
// producing the logical backup pkg/backup's Manager restores before any
// columnar data, so that by the time partition archives are replayed the
// deadline queues and counters they reference already exist.
func (c *Client) Snapshot(ctx context.Context) ([]KeyDump, error) {
	var dumps []KeyDump
	iter := c.rdb.Scan(ctx, 0, c.prefix+":*", 1000).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.rdb.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("kvindex: ttl for %s: %w", key, err)
		}
		payload, err := c.rdb.Dump(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("kvindex: dump %s: %w", key, err)
		}
		ttlMs := int64(-1)
		if ttl > 0 {
			ttlMs = ttl.Milliseconds()
		}
		dumps = append(dumps, KeyDump{
			Key:   key,
			TTLMs: ttlMs,
			Dump:  base64.StdEncoding.EncodeToString([]byte(payload)),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kvindex: scanning keys: %w", err)
	}
	return dumps, nil
}

// Restore replays a Snapshot, overwriting any key that already exists.
// Destructive by design: the caller (pkg/backup, gated on operator
// confirmation) only calls this when it means to replace the index.
func (c *Client) Restore(ctx context.Context, dumps []KeyDump) error {
	for _, d := range dumps {
		raw, err := base64.StdEncoding.DecodeString(d.Dump)
		if err != nil {
			return fmt.Errorf("kvindex: decoding dump for %s: %w", d.Key, err)
		}
		ttl := time.Duration(0)
		if d.TTLMs > 0 {
			ttl = time.Duration(d.TTLMs) * time.Millisecond
		}
		if err := c.rdb.RestoreReplace(ctx, d.Key, ttl, string(raw)).Err(); err != nil {
			return fmt.Errorf("kvindex: restoring %s: %w", d.Key, err)
		}
	}
	return nil
}
