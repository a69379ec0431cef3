package columnar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestTagsDeleteDecrementsCensus(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Tags()

	uploaded := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	earliest := map[string]time.Time{"group1": uploaded}
	tags := map[string][]string{"OS": {"Linux"}}

	require.NoError(t, repo.Create(ctx, "Files", "sha256:abc", tags, earliest, models.DefaultPartitionSize))
	require.NoError(t, repo.Create(ctx, "Files", "sha256:def", tags, earliest, models.DefaultPartitionSize))

	total, err := repo.Census(ctx, "Files", "group1", "os", "linux")
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	require.NoError(t, repo.Delete(ctx, "Files", "group1", "sha256:abc", "OS", "Linux", models.DefaultPartitionSize))

	total, err = repo.Census(ctx, "Files", "group1", "os", "linux")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "deleting one tag instance must decrement the case-insensitive mirror too")

	got, err := repo.Get(ctx, "Files", "sha256:abc", []string{"group1"})
	require.NoError(t, err)
	assert.Empty(t, got, "deleted tag must no longer be returned by Get")
}

func TestTagsCreateIsIdempotentForCensus(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	repo := client.Tags()

	uploaded := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	earliest := map[string]time.Time{"group1": uploaded}
	tags := map[string][]string{"OS": {"Linux"}}

	require.NoError(t, repo.Create(ctx, "Files", "sha256:abc", tags, earliest, models.DefaultPartitionSize))
	require.NoError(t, repo.Create(ctx, "Files", "sha256:abc", tags, earliest, models.DefaultPartitionSize))
	require.NoError(t, repo.Create(ctx, "Files", "sha256:abc", tags, earliest, models.DefaultPartitionSize))

	total, err := repo.Census(ctx, "Files", "group1", "os", "linux")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "re-tagging the same item with the same tag must not inflate the census counter")
}
