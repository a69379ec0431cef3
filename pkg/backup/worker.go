package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// maxConcurrentPartitions bounds how many partitions a BackupWorker pool
// streams at once, mirroring the pack's MaxConcurrentUploads semaphore
// pattern (evalgo-org-eve/storage/s3aws.go) rather than an unbounded
// goroutine-per-partition fan-out.
const maxConcurrentPartitions = 16

// Row is one archived output row: its visibility key plus the full
// Output record, serialized as a unit so Restore can replay it through
// columnar.Results.Create exactly as it was written.
type Row struct {
	Kind  string       `json:"kind"`
	Group string       `json:"group"`
	Key   string       `json:"key"`
	Out   models.Output `json:"out"`
}

type outputStreamRow struct {
	Kind        string                 `db:"kind"`
	Group       string                 `db:"grp"`
	Key         string                 `db:"key"`
	ID          string                 `db:"id"`
	Tool        string                 `db:"tool"`
	ToolVersion string                 `db:"tool_version"`
	Cmd         columnar.StringSlice   `db:"cmd"`
	Uploaded    time.Time              `db:"uploaded"`
	Result      []byte                 `db:"result"`
	ResultFiles columnar.StringSlice   `db:"result_files"`
	Display     string                 `db:"display"`
	Children    columnar.StringMap    `db:"children"`
}

func (r outputStreamRow) toRow() Row {
	return Row{
		Kind:  r.Kind,
		Group: r.Group,
		Key:   r.Key,
		Out: models.Output{
			ID:          r.ID,
			Tool:        r.Tool,
			ToolVersion: r.ToolVersion,
			Cmd:         r.Cmd,
			Uploaded:    r.Uploaded,
			Result:      r.Result,
			ResultFiles: r.ResultFiles,
			Display:     models.DisplayType(r.Display),
			Children:    r.Children,
		},
	}
}

// BackupWorker streams every partition in a Plan into an ArchiveWriter,
// one partition at a time per worker, mirroring new_backup.rs's
// BackupWorker: pull a partition's clustered rows in order, pack them
// into a single partition blob, and let the writer roll its own SHA-256
// over the packed bytes.
type BackupWorker struct {
	db     *sqlx.DB
	writer *ArchiveWriter
}

// NewBackupWorker builds a BackupWorker over a db handle and a shared
// ArchiveWriter (ArchiveWriter.Add is safe for concurrent callers).
func NewBackupWorker(db *sqlx.DB, writer *ArchiveWriter) *BackupWorker {
	return &BackupWorker{db: db, writer: writer}
}

// Run streams every partition in keys into the writer, running up to
// maxConcurrentPartitions partitions concurrently. It returns the total
// number of rows archived.
func (w *BackupWorker) Run(ctx context.Context, keys []PartitionKey) (int, error) {
	sem := make(chan struct{}, maxConcurrentPartitions)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	total := 0

	for _, key := range keys {
		wg.Add(1)
		go func(k PartitionKey) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			n, err := w.archivePartition(ctx, k)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			total += n
		}(key)
	}
	wg.Wait()
	return total, firstErr
}

func (w *BackupWorker) archivePartition(ctx context.Context, key PartitionKey) (int, error) {
	var rows []outputStreamRow
	err := w.db.SelectContext(ctx, &rows, `
		SELECT os.kind, os.grp, os.key, o.id, o.tool, o.tool_version, o.cmd,
		       o.uploaded, o.result, o.result_files, o.display, o.children
		FROM output_streams os
		JOIN outputs o ON o.id = os.output_id
		WHERE os.kind = $1 AND os.grp = $2 AND os.year = $3 AND os.bucket = $4
		ORDER BY os.uploaded, os.output_id`,
		key.Kind, key.Group, key.Year, key.Bucket,
	)
	if err != nil {
		return 0, fmt.Errorf("backup: streaming partition %+v: %w", key, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRow())
	}
	data, err := json.Marshal(out)
	if err != nil {
		return 0, fmt.Errorf("backup: packing partition %+v: %w", key, err)
	}
	if err := w.writer.Add(key, uint64(len(out)), data); err != nil {
		return 0, fmt.Errorf("backup: writing partition %+v: %w", key, err)
	}
	return len(out), nil
}
