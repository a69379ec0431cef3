package columnar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thorium-sh/thorium/pkg/models"
)

func newTestClient(t *testing.T) *Client {
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

	client, err := NewClient(ctx, Config{
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

func TestResultsCreateGetPrune(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Results()

	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		out := models.Output{
			ID:          uuidFor(t, i),
			Tool:        "harvest",
			ToolVersion: "1.0",
			Cmd:         []string{"harvest", "--fast"},
			Uploaded:    base.Add(time.Duration(i) * time.Hour),
			Result:      []byte(`{"ok":true}`),
			Display:     models.DisplayJSON,
		}
		require.NoError(t, repo.Create(ctx, "Files", "sha256:abc", out, []string{"group1"}, models.DefaultPartitionSize))
	}

	ids, err := repo.GetIDs(ctx, "Files", "sha256:abc", []string{"group1"}, nil, true)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Equal(t, uuidFor(t, 3), ids[0].OutputID, "newest upload must sort first")

	victims, err := repo.Prune(ctx, "Files", "sha256:abc", []string{"group1"}, 2)
	require.NoError(t, err)
	assert.Len(t, victims, 2, "retention sweep must prune the oldest 2 stream rows")

	ids, err = repo.GetIDs(ctx, "Files", "sha256:abc", []string{"group1"}, nil, true)
	require.NoError(t, err)
	assert.Len(t, ids, 2, "retention sweep must keep only the newest 2")

	orphaned, err := repo.Orphaned(ctx, "Files", "sha256:abc", victims)
	require.NoError(t, err)
	assert.Len(t, orphaned, 2, "pruned stream rows with no other group reference leave their outputs orphaned")

	for _, id := range orphaned {
		require.NoError(t, repo.DeleteOutput(ctx, id))
	}
	outs, err := repo.Get(ctx, victims)
	require.NoError(t, err)
	assert.Empty(t, outs, "orphaned outputs must be gone once DeleteOutput runs")
}

func uuidFor(t *testing.T, n int) string {
	t.Helper()
	return []string{
		"00000000-0000-0000-0000-000000000000",
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
		"00000000-0000-0000-0000-000000000003",
	}[n]
}

func TestTagsCreateAndCensus(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Tags()

	uploaded := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	earliest := map[string]time.Time{"group1": uploaded}
	tags := map[string][]string{"OS": {"Linux"}}

	require.NoError(t, repo.Create(ctx, "Files", "sha256:abc", tags, earliest, models.DefaultPartitionSize))
	require.NoError(t, repo.Create(ctx, "Files", "sha256:def", tags, earliest, models.DefaultPartitionSize))

	got, err := repo.Get(ctx, "Files", "sha256:abc", []string{"group1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "OS", got[0].TagKey)

	total, err := repo.Census(ctx, "Files", "group1", "os", "linux")
	require.NoError(t, err)
	assert.EqualValues(t, 2, total, "case-insensitive mirror counts both uploads")
}
