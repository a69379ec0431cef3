// Package backup implements cluster backup and restore: streaming
// partition archives of columnar results, a logical snapshot of the KV
// index and catalog, and blob-store replication to a fresh bucket
// (spec.md §4.6, C8).
package backup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/kvindex"
	"github.com/thorium-sh/thorium/pkg/models"
)

const (
	kvFileName = "redis.json"
)

// KVStore is the KV index surface a Manager needs: a logical
// snapshot/restore pair. *kvindex.Client satisfies this directly for an
// admin tool with a direct Redis connection; cmd/thoradm instead wires
// an adapter over pkg/client's BackupKV/RestoreKV so the KV leg of a
// restore always goes "through the Thorium API client" the way the
// original thoradm's restore_redis does (original_source/thoradm/src/backup,
// DESIGN.md).
type KVStore interface {
	Snapshot(ctx context.Context) ([]kvindex.KeyDump, error)
	Restore(ctx context.Context, dumps []kvindex.KeyDump) error
}

// Manager coordinates a full backup or restore across the KV index,
// catalog, columnar partitions, and blob store.
type Manager struct {
	db   *columnar.Client
	kv   KVStore
	blob *blobstore.Client
}

// NewManager builds a Manager over the three stores a backup or restore
// touches.
func NewManager(db *columnar.Client, kv KVStore, blob *blobstore.Client) *Manager {
	return &Manager{db: db, kv: kv, blob: blob}
}

// Summary reports what a Backup run archived.
type Summary struct {
	Keys       int
	Groups     int
	Images     int
	Pipelines  int
	Partitions int
	Rows       int
}

// Backup writes a full cluster snapshot to dir: the KV index's logical
// dump, a catalog.json of every group/image/pipeline, then a set of
// partition archive file pairs covering every output_streams partition
// (spec.md §4.6).
func (m *Manager) Backup(ctx context.Context, dir string) (Summary, error) {
	var sum Summary

	dumps, err := m.kv.Snapshot(ctx)
	if err != nil {
		return sum, fmt.Errorf("backup: snapshotting kv index: %w", err)
	}
	if err := writeJSONFile(filepath.Join(dir, kvFileName), dumps); err != nil {
		return sum, err
	}
	sum.Keys = len(dumps)

	cat := m.db.Catalog()
	if err := dumpCatalog(ctx, cat, filepath.Join(dir, catalogFileName)); err != nil {
		return sum, err
	}
	groups, err := cat.ListGroups(ctx)
	if err != nil {
		return sum, fmt.Errorf("backup: listing groups: %w", err)
	}
	sum.Groups = len(groups)

	keys, err := Plan(ctx, m.db.DB())
	if err != nil {
		return sum, err
	}
	sum.Partitions = len(keys)

	writer, err := NewArchiveWriter(dir)
	if err != nil {
		return sum, err
	}
	worker := NewBackupWorker(m.db.DB(), writer)
	rows, err := worker.Run(ctx, keys)
	if err != nil {
		_ = writer.Close()
		return sum, err
	}
	sum.Rows = rows
	if err := writer.Close(); err != nil {
		return sum, err
	}
	return sum, nil
}

// RestorePlan describes what a Restore is about to overwrite, shown to the
// operator before any destructive write (spec.md §4.6: "Restore is
// interactive: the operator confirms namespace, endpoints, and bucket
// names before any destructive write").
type RestorePlan struct {
	Dir           string
	SamplesBucket string
	ResultsBucket string
	PartitionSize models.PartitionSize
}

// Restore replays a directory written by Backup: the KV index snapshot,
// then the catalog, then every partition archive, then blob-store
// replication into a fresh bucket pair. confirm is called with a
// RestorePlan describing the destructive write about to happen; Restore
// aborts if it returns false.
func (m *Manager) Restore(ctx context.Context, plan RestorePlan, confirm func(RestorePlan) bool) error {
	if confirm != nil && !confirm(plan) {
		return fmt.Errorf("backup: restore aborted by operator")
	}

	var dumps []kvindex.KeyDump
	if err := readJSONFile(filepath.Join(plan.Dir, kvFileName), &dumps); err != nil {
		return err
	}
	if err := m.kv.Restore(ctx, dumps); err != nil {
		return fmt.Errorf("backup: restoring kv index: %w", err)
	}

	if err := restoreCatalog(ctx, m.db.Catalog(), filepath.Join(plan.Dir, catalogFileName)); err != nil {
		return err
	}

	size := plan.PartitionSize
	if size == 0 {
		size = models.DefaultPartitionSize
	}
	restoreWorker := NewRestoreWorker(m.db, size)
	if _, err := restoreWorker.RestoreDir(ctx, plan.Dir); err != nil {
		return err
	}

	if _, err := CopyBlobs(ctx, m.db.DB(), m.blob, Buckets{Samples: plan.SamplesBucket, Results: plan.ResultsBucket}); err != nil {
		return err
	}
	return nil
}
