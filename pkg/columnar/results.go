package columnar

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/models"
)

// Results is the repository backing result (Output) storage and the
// per-group visibility stream, grounded on the original backend's
// results.rs create/get/prune trio.
type Results struct {
	db *sqlx.DB
}

func (c *Client) Results() *Results {
	return &Results{db: c.db}
}

type outputRow struct {
	ID          string      `db:"id"`
	Kind        string      `db:"kind"`
	Key         string      `db:"key"`
	Tool        string      `db:"tool"`
	ToolVersion string      `db:"tool_version"`
	Cmd         StringSlice `db:"cmd"`
	Uploaded    time.Time   `db:"uploaded"`
	Result      []byte      `db:"result"`
	ResultFiles StringSlice `db:"result_files"`
	Display     string      `db:"display"`
	Children    StringMap   `db:"children"`
}

func (r outputRow) toModel() models.Output {
	return models.Output{
		ID:          r.ID,
		Tool:        r.Tool,
		ToolVersion: r.ToolVersion,
		Cmd:         r.Cmd,
		Uploaded:    r.Uploaded,
		Result:      r.Result,
		ResultFiles: r.ResultFiles,
		Display:     models.DisplayType(r.Display),
		Children:    r.Children,
	}
}

// Create persists a new Output plus one stream row per visible group in a
// single transaction. It does not prune: retention is enforced by a
// separate Prune/Orphaned pass run by the caller.
func (r *Results) Create(ctx context.Context, kind, key string, out models.Output, groups []string, partitionSize models.PartitionSize) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("columnar: begin result insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outputs (id, kind, key, tool, tool_version, cmd, uploaded, result, result_files, display, children)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		out.ID, kind, key, out.Tool, out.ToolVersion, StringSlice(out.Cmd), out.Uploaded,
		out.Result, StringSlice(out.ResultFiles), string(out.Display), StringMap(out.Children),
	)
	if err != nil {
		return fmt.Errorf("columnar: insert output: %w", err)
	}

	part := models.PartitionOf(out.Uploaded, partitionSize)
	for _, group := range groups {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO output_streams (kind, grp, year, bucket, key, tool, output_id, uploaded)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (kind, grp, year, bucket, key, output_id) DO NOTHING`,
			kind, group, part.Year, part.Bucket, key, out.Tool, out.ID, out.Uploaded,
		)
		if err != nil {
			return fmt.Errorf("columnar: insert stream row for group %s: %w", group, err)
		}
	}

	return tx.Commit()
}

// GetIDs returns stream rows for (kind, groups, key[, tools]) newest
// first, deduplicating an output id that is visible through more than
// one group into a single entry that carries the group of its first
// returned row only.
func (r *Results) GetIDs(ctx context.Context, kind, key string, groups, tools []string, includeHidden bool) ([]models.StreamRow, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT kind, grp, key, tool, output_id, uploaded
		FROM output_streams
		WHERE kind = ? AND key = ? AND grp IN (?)`,
		kind, key, groups,
	)
	if err != nil {
		return nil, fmt.Errorf("columnar: building stream query: %w", err)
	}
	if len(tools) > 0 {
		toolQuery, toolArgs, err := sqlx.In(" AND tool IN (?)", tools)
		if err != nil {
			return nil, fmt.Errorf("columnar: building tool filter: %w", err)
		}
		query += toolQuery
		args = append(args, toolArgs...)
	}
	query += " ORDER BY uploaded DESC, output_id"
	query = r.db.Rebind(query)

	type row struct {
		Kind     string    `db:"kind"`
		Group    string    `db:"grp"`
		Key      string    `db:"key"`
		Tool     string    `db:"tool"`
		OutputID string    `db:"output_id"`
		Uploaded time.Time `db:"uploaded"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("columnar: query stream rows: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	out := make([]models.StreamRow, 0, len(rows))
	for _, rr := range rows {
		if seen[rr.OutputID] {
			continue
		}
		seen[rr.OutputID] = true
		out = append(out, models.StreamRow{
			Kind:     rr.Kind,
			Group:    rr.Group,
			Key:      rr.Key,
			Tool:     rr.Tool,
			OutputID: rr.OutputID,
			Uploaded: rr.Uploaded,
		})
	}
	_ = includeHidden // hidden filtering happens against the Output.Display after Get
	return out, nil
}

// Get retrieves the full Output rows for a set of ids.
func (r *Results) Get(ctx context.Context, ids []string) (map[string]models.Output, error) {
	if len(ids) == 0 {
		return map[string]models.Output{}, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM outputs WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("columnar: building get query: %w", err)
	}
	query = r.db.Rebind(query)
	var rows []outputRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("columnar: query outputs: %w", err)
	}
	out := make(map[string]models.Output, len(rows))
	for _, rr := range rows {
		out[rr.ID] = rr.toModel()
	}
	return out, nil
}

// Prune deletes stream rows beyond the per-group retention count and
// returns the distinct output ids that lost a row, for the caller to pass
// to Orphaned — spec.md §4.5 Prune: "for each victim it deletes the
// stream row only". The output row itself is deleted separately, once
// Orphaned confirms no other group's stream row still references it,
// because a victim in group A may still be visible through group B.
// Retention is counted per (group, tool): the newest `keep` stream rows of
// each tool in a group survive, the rest are deleted.
func (r *Results) Prune(ctx context.Context, kind, key string, groups []string, keep int) ([]string, error) {
	seen := make(map[string]bool)
	var victims []string
	for _, group := range groups {
		var ids []string
		err := r.db.SelectContext(ctx, &ids, `
			DELETE FROM output_streams
			WHERE (kind, grp, key, output_id) IN (
				SELECT kind, grp, key, output_id FROM (
					SELECT kind, grp, key, output_id,
					       row_number() OVER (PARTITION BY tool ORDER BY uploaded DESC, output_id) AS rn
					FROM output_streams
					WHERE kind = $1 AND grp = $2 AND key = $3
				) ranked
				WHERE rn > $4
			)
			RETURNING output_id`,
			kind, group, key, keep,
		)
		if err != nil {
			return nil, fmt.Errorf("columnar: pruning stream rows for group %s: %w", group, err)
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				victims = append(victims, id)
			}
		}
	}
	return victims, nil
}

// Orphaned filters candidateIDs down to the ones no longer referenced by
// any stream row under (kind, key), so the caller can delete both the
// Output row and its backing blob files only for ids that are truly
// unreachable — spec.md §4.5's "across pruned ids, checks the reverse
// index ... if no surviving stream row references the id".
func (r *Results) Orphaned(ctx context.Context, kind, key string, candidateIDs []string) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT o.id FROM outputs o
		WHERE o.kind = ? AND o.key = ? AND o.id IN (?)
		  AND NOT EXISTS (
			SELECT 1 FROM output_streams s
			WHERE s.kind = o.kind AND s.key = o.key AND s.output_id = o.id
		  )`,
		kind, key, candidateIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("columnar: building orphaned query: %w", err)
	}
	query = r.db.Rebind(query)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("columnar: query orphaned outputs: %w", err)
	}
	return ids, nil
}

// DeleteOutput removes a single Output row, used once Orphaned confirms no
// stream row references it anymore.
func (r *Results) DeleteOutput(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outputs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("columnar: delete output %s: %w", id, err)
	}
	return nil
}
