package backup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

func newTestColumnarClient(t *testing.T) *columnar.Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := columnar.NewClient(ctx, columnar.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

// TestCatalogDumpAndRestoreRoundTrip exercises dumpCatalog/restoreCatalog
// against a real Postgres instance: seed a group/image/pipeline, dump to
// disk, wipe the catalog tables, restore, and confirm every definition
// reappears intact.
func TestCatalogDumpAndRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestColumnarClient(t)
	cat := db.Catalog()

	group := models.Group{
		Name:   "research",
		Owners: models.RoleSet{Direct: []string{"alice"}},
		Users:  models.RoleSet{Direct: []string{"bob"}},
	}
	require.NoError(t, cat.PutGroup(ctx, group))

	image := models.Image{
		Group:          "research",
		Name:           "harvest",
		Scaler:         models.ScalerK8s,
		ContainerImage: "repo/harvest:1.0",
		Resources:      models.Resources{MilliCPU: 500, MemoryMiB: 256},
		Lifetime:       models.Lifetime{Kind: models.LifetimeCounted, Count: 10},
	}
	require.NoError(t, cat.PutImage(ctx, image))

	pipeline := models.Pipeline{
		Group:      "research",
		Name:       "full-scan",
		Order:      []models.Stage{{Images: []string{"harvest"}}},
		SLASeconds: models.DefaultSLASeconds,
	}
	require.NoError(t, cat.PutPipeline(ctx, pipeline))

	dir := t.TempDir()
	path := dir + "/" + catalogFileName
	require.NoError(t, dumpCatalog(ctx, cat, path))

	_, err := db.DB().ExecContext(ctx, `DELETE FROM pipelines`)
	require.NoError(t, err)
	_, err = db.DB().ExecContext(ctx, `DELETE FROM images`)
	require.NoError(t, err)
	_, err = db.DB().ExecContext(ctx, `DELETE FROM groups`)
	require.NoError(t, err)

	_, err = cat.GetGroup(ctx, "research")
	require.ErrorIs(t, err, columnar.ErrGroupNotFound, "catalog tables must be empty before restore")

	require.NoError(t, restoreCatalog(ctx, cat, path))

	gotGroup, err := cat.GetGroup(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, gotGroup.Owners.Direct)

	gotImages, err := cat.ListImages(ctx, "research")
	require.NoError(t, err)
	require.Len(t, gotImages, 1)
	assert.Equal(t, "repo/harvest:1.0", gotImages[0].ContainerImage)

	gotPipelines, err := cat.ListPipelines(ctx, "research")
	require.NoError(t, err)
	require.Len(t, gotPipelines, 1)
	assert.Equal(t, "full-scan", gotPipelines[0].Name)
}

// TestBackupRestorePartitionRoundTrip exercises Plan/BackupWorker/
// ArchiveWriter followed by RestoreWorker against a real Postgres
// instance: seed result rows through columnar.Results.Create exactly as
// the live ingestion path does, archive every partition, delete the
// rows, restore the archive, and confirm the rows are back.
func TestBackupRestorePartitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestColumnarClient(t)
	results := db.Results()

	uploaded := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	out := models.Output{
		ID:          "00000000-0000-0000-0000-0000000000aa",
		Tool:        "harvest",
		ToolVersion: "1.0",
		Cmd:         []string{"harvest", "--fast"},
		Uploaded:    uploaded,
		Result:      []byte(`{"ok":true}`),
		Display:     models.DisplayJSON,
	}
	require.NoError(t, results.Create(ctx, "Files", "sha256:abc", out, []string{"research"}, models.DefaultPartitionSize))

	keys, err := Plan(ctx, db.DB())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "research", keys[0].Group)

	dir := t.TempDir()
	writer, err := NewArchiveWriter(dir)
	require.NoError(t, err)
	worker := NewBackupWorker(db.DB(), writer)
	rowCount, err := worker.Run(ctx, keys)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, 1, rowCount)

	_, err = db.DB().ExecContext(ctx, `DELETE FROM output_streams`)
	require.NoError(t, err)
	_, err = db.DB().ExecContext(ctx, `DELETE FROM outputs`)
	require.NoError(t, err)

	ids, err := results.GetIDs(ctx, "Files", "sha256:abc", []string{"research"}, nil, true)
	require.NoError(t, err)
	require.Empty(t, ids, "rows must be gone before restore")

	restoreWorker := NewRestoreWorker(db, models.DefaultPartitionSize)
	restored, err := restoreWorker.RestoreDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	ids, err = results.GetIDs(ctx, "Files", "sha256:abc", []string{"research"}, nil, true)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, out.ID, ids[0].OutputID)

	outs, err := results.Get(ctx, []string{out.ID})
	require.NoError(t, err)
	require.Contains(t, outs, out.ID)
	assert.Equal(t, out.Tool, outs[out.ID].Tool)
}
