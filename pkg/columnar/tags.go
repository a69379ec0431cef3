package columnar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/models"
)

// Tags is the repository backing tag storage and the per-(tag-key,
// tag-value) census counts, grounded on the original backend's tags.rs.
// Unlike results.rs, tag creation is plain upsert: tags don't carry a
// retention count of their own; each (tag key, tag value) pair on an item
// is one row, and re-adding it only refreshes its uploaded time.
type Tags struct {
	db *sqlx.DB
}

func (c *Client) Tags() *Tags {
	return &Tags{db: c.db}
}

// Create upserts one tag row per (group, tag key, tag value) and, for each
// newly inserted row, bumps the matching census counter plus a lowercase
// mirror counter for case-insensitive lookups (the tag row itself keeps
// its original case). earliest gives, per group, the timestamp to partition
// this tag under — the earliest time any group saw the tagged item,
// matching the original backend's per-group partition derivation.
func (t *Tags) Create(ctx context.Context, kind, key string, tags map[string][]string, earliest map[string]time.Time, partitionSize models.PartitionSize) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("columnar: begin tag insert: %w", err)
	}
	defer tx.Rollback()

	for group, ts := range earliest {
		part := models.PartitionOf(ts, partitionSize)
		for tagKey, values := range tags {
			for _, tagValue := range values {
				inserted, err := upsertTag(ctx, tx, kind, group, key, tagKey, tagValue, ts)
				if err != nil {
					return err
				}
				if !inserted {
					// Re-tagging an item that already carries this exact
					// (tag key, tag value) only refreshes uploaded; the
					// census counter must stay pinned to the live row count.
					continue
				}
				if err := bumpCensus(ctx, tx, kind, group, tagKey, tagValue, part); err != nil {
					return err
				}
				lowerKey, lowerVal := strings.ToLower(tagKey), strings.ToLower(tagValue)
				if lowerKey != tagKey || lowerVal != tagValue {
					if err := bumpCensus(ctx, tx, kind, group, lowerKey, lowerVal, part); err != nil {
						return err
					}
				}
			}
		}
	}
	return tx.Commit()
}

// upsertTag reports whether the upsert inserted a fresh row (true) or
// only refreshed an existing one's uploaded timestamp (false), via the
// xmax = 0 trick: a row's xmax is unset on insert and set to the
// current transaction when reached through the ON CONFLICT DO UPDATE
// branch.
func upsertTag(ctx context.Context, tx *sqlx.Tx, kind, group, key, tagKey, tagValue string, uploaded time.Time) (bool, error) {
	var inserted bool
	err := tx.GetContext(ctx, &inserted, `
		INSERT INTO tags (kind, grp, key, tag_key, tag_value, uploaded)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, grp, key, tag_key, tag_value) DO UPDATE SET uploaded = EXCLUDED.uploaded
		RETURNING (xmax = 0)`,
		kind, group, key, tagKey, tagValue, uploaded,
	)
	if err != nil {
		return false, fmt.Errorf("columnar: upsert tag %s=%s: %w", tagKey, tagValue, err)
	}
	return inserted, nil
}

func bumpCensus(ctx context.Context, tx *sqlx.Tx, kind, group, tagKey, tagValue string, part models.Partition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO census_counts (kind, grp, tag_key, tag_value, year, bucket, count)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (kind, grp, tag_key, tag_value, year, bucket)
		DO UPDATE SET count = census_counts.count + 1`,
		kind, group, tagKey, tagValue, part.Year, part.Bucket,
	)
	if err != nil {
		return fmt.Errorf("columnar: bump census for %s=%s: %w", tagKey, tagValue, err)
	}
	return nil
}

// Delete removes one tag value from an item and decrements the matching
// census counters (and their lowercase mirror, when distinct) by the
// partition the tag's own uploaded timestamp falls in, so Census stays
// consistent with the rows actually present (spec.md §8 testable
// property "tag delete consistency").
func (t *Tags) Delete(ctx context.Context, kind, group, key, tagKey, tagValue string, partitionSize models.PartitionSize) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("columnar: begin tag delete: %w", err)
	}
	defer tx.Rollback()

	var uploaded time.Time
	err = tx.GetContext(ctx, &uploaded, `
		SELECT uploaded FROM tags WHERE kind = $1 AND grp = $2 AND key = $3 AND tag_key = $4 AND tag_value = $5`,
		kind, group, key, tagKey, tagValue,
	)
	if err != nil {
		return fmt.Errorf("columnar: locating tag %s=%s for delete: %w", tagKey, tagValue, err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM tags WHERE kind = $1 AND grp = $2 AND key = $3 AND tag_key = $4 AND tag_value = $5`,
		kind, group, key, tagKey, tagValue,
	)
	if err != nil {
		return fmt.Errorf("columnar: delete tag %s=%s: %w", tagKey, tagValue, err)
	}

	part := models.PartitionOf(uploaded, partitionSize)
	if err := decrementCensus(ctx, tx, kind, group, tagKey, tagValue, part); err != nil {
		return err
	}
	lowerKey, lowerVal := strings.ToLower(tagKey), strings.ToLower(tagValue)
	if lowerKey != tagKey || lowerVal != tagValue {
		if err := decrementCensus(ctx, tx, kind, group, lowerKey, lowerVal, part); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func decrementCensus(ctx context.Context, tx *sqlx.Tx, kind, group, tagKey, tagValue string, part models.Partition) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE census_counts SET count = GREATEST(count - 1, 0)
		WHERE kind = $1 AND grp = $2 AND tag_key = $3 AND tag_value = $4 AND year = $5 AND bucket = $6`,
		kind, group, tagKey, tagValue, part.Year, part.Bucket,
	)
	if err != nil {
		return fmt.Errorf("columnar: decrement census for %s=%s: %w", tagKey, tagValue, err)
	}
	return nil
}

// Get returns every tag attached to a key visible to the given groups.
func (t *Tags) Get(ctx context.Context, kind, key string, groups []string) ([]models.Tag, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT kind, grp, key, tag_key, tag_value, uploaded FROM tags
		WHERE kind = ? AND key = ? AND grp IN (?)`,
		kind, key, groups,
	)
	if err != nil {
		return nil, fmt.Errorf("columnar: building tag query: %w", err)
	}
	query = t.db.Rebind(query)

	type row struct {
		Kind     string    `db:"kind"`
		Group    string    `db:"grp"`
		Key      string    `db:"key"`
		TagKey   string    `db:"tag_key"`
		TagValue string    `db:"tag_value"`
		Uploaded time.Time `db:"uploaded"`
	}
	var rows []row
	if err := t.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("columnar: query tags: %w", err)
	}
	out := make([]models.Tag, 0, len(rows))
	for _, rr := range rows {
		out = append(out, models.Tag{
			Kind: rr.Kind, Group: rr.Group, Key: rr.Key,
			TagKey: rr.TagKey, TagValue: rr.TagValue, Uploaded: rr.Uploaded,
		})
	}
	return out, nil
}

// Census returns the total count recorded for a (tag key, tag value)
// across every bucket in a group, used for tag-frequency queries.
func (t *Tags) Census(ctx context.Context, kind, group, tagKey, tagValue string) (int64, error) {
	var total int64
	err := t.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(count), 0) FROM census_counts
		WHERE kind = $1 AND grp = $2 AND tag_key = $3 AND tag_value = $4`,
		kind, group, tagKey, tagValue,
	)
	return total, err
}
