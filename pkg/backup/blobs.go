package backup

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/columnar"
)

// outputBlobRow is the slice of an outputs row CopyBlobs needs to derive
// every blob reference a restored output carries.
type outputBlobRow struct {
	ID          string               `db:"id"`
	ResultFiles columnar.StringSlice `db:"result_files"`
	Children    columnar.StringMap   `db:"children"`
}

// Buckets names the destination buckets a restore copies blob objects
// into, kept distinct from the source Client's own configured buckets so
// a restore never mutates the archive it's reading from (spec.md §4.6:
// "uploaded to a fresh bucket").
type Buckets struct {
	Samples string
	Results string
}

// CopyBlobs enumerates every blob reference off the already-restored
// columnar rows and server-side copies each object into a fresh bucket,
// so that restoring an object with no referencing row is never possible
// (spec.md §4.6). It returns the number of objects copied.
func CopyBlobs(ctx context.Context, db *sqlx.DB, blob *blobstore.Client, dst Buckets) (int, error) {
	var rows []outputBlobRow
	if err := db.SelectContext(ctx, &rows, `SELECT id, result_files, children FROM outputs ORDER BY id`); err != nil {
		return 0, fmt.Errorf("backup: listing outputs for blob copy: %w", err)
	}

	copied := 0
	seenSamples := make(map[string]bool)
	for _, r := range rows {
		for _, name := range r.ResultFiles {
			key := r.ID + "/" + name
			if err := blob.CopyTo(ctx, "results", key, dst.Results); err != nil {
				return copied, fmt.Errorf("backup: copying result blob %s: %w", key, err)
			}
			copied++
		}
		for _, digest := range r.Children {
			if seenSamples[digest] {
				continue
			}
			seenSamples[digest] = true
			if err := blob.CopyTo(ctx, "samples", digest, dst.Samples); err != nil {
				return copied, fmt.Errorf("backup: copying sample blob %s: %w", digest, err)
			}
			copied++
		}
	}
	return copied, nil
}
