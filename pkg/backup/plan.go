package backup

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PartitionKey identifies one (kind, group, year, bucket) partition the
// way pkg/columnar clusters output_streams rows — this port's analog of
// a Scylla token range (DESIGN.md).
type PartitionKey struct {
	Kind   string
	Group  string
	Year   int
	Bucket int
}

// Plan enumerates every distinct partition currently holding result data,
// the work list a BackupWorker pool fans out over.
func Plan(ctx context.Context, db *sqlx.DB) ([]PartitionKey, error) {
	type row struct {
		Kind   string `db:"kind"`
		Group  string `db:"grp"`
		Year   int    `db:"year"`
		Bucket int    `db:"bucket"`
	}
	var rows []row
	err := db.SelectContext(ctx, &rows, `
		SELECT DISTINCT kind, grp, year, bucket
		FROM output_streams
		ORDER BY kind, grp, year, bucket`)
	if err != nil {
		return nil, fmt.Errorf("backup: planning partitions: %w", err)
	}
	out := make([]PartitionKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, PartitionKey{Kind: r.Kind, Group: r.Group, Year: r.Year, Bucket: r.Bucket})
	}
	return out, nil
}
