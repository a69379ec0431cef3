package ingestion

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/kvindex"
	"github.com/thorium-sh/thorium/pkg/models"
	"github.com/thorium-sh/thorium/pkg/search"
)

const (
	testMinIOAccessKey = "minioadmin"
	testMinIOSecretKey = "minioadmin"
	testMinIORegion    = "us-east-1"
	testResultsBucket  = "results"
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

func newTestKVClient(t *testing.T) *kvindex.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kvindex.NewFromRedis(rdb, "test")
}

// newTestBlobClient starts a MinIO container and pre-creates the results
// bucket, mirroring evalgo-org-eve/storage/s3aws_integration_test.go's
// setupMinIOContainer/createMinIOBucket pair.
func newTestBlobClient(t *testing.T) *blobstore.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testMinIOAccessKey,
			"MINIO_ROOT_PASSWORD": testMinIOSecretKey,
		},
		Cmd: []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	require.NoError(t, createMinIOBucket(ctx, endpoint, testResultsBucket))

	blob, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:      endpoint,
		Region:        testMinIORegion,
		AccessKey:     testMinIOAccessKey,
		SecretKey:     testMinIOSecretKey,
		SamplesBucket: testResultsBucket,
		ResultsBucket: testResultsBucket,
		ReposBucket:   testResultsBucket,
	})
	require.NoError(t, err)
	return blob
}

func createMinIOBucket(ctx context.Context, endpoint, bucket string) error {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(testMinIORegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(testMinIOAccessKey, testMinIOSecretKey, "")),
	)
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	return err
}

func newTestPipeline(t *testing.T, retention int) (*Pipeline, *columnar.Client, *blobstore.Client) {
	t.Helper()
	db := newTestColumnarClient(t)
	kv := newTestKVClient(t)
	blob := newTestBlobClient(t)
	bus := search.New(kv)
	return New(db, kv, blob, bus, retention, models.DefaultPartitionSize), db, blob
}

// TestSubmitResultPrunesAndDeletesOrphanedBlobs exercises the full C2/C9
// sequence: create four results over a two-result retention window,
// confirming the oldest's blob is deleted from the blob store once its
// stream row is pruned and no other group still references it (spec.md
// §4.5 steps 1-5).
func TestSubmitResultPrunesAndDeletesOrphanedBlobs(t *testing.T) {
	ctx := context.Background()
	p, db, blob := newTestPipeline(t, 2)

	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 4)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i)
		ids[i] = id
		out := models.Output{
			ID:          id,
			Tool:        "harvest",
			ToolVersion: "1.0",
			Uploaded:    base.Add(time.Duration(i) * time.Hour),
			Result:      []byte(`{"ok":true}`),
			ResultFiles: []string{"out.txt"},
			Display:     models.DisplayJSON,
		}
		require.NoError(t, blob.PutAt(ctx, "results", id+"/out.txt", strings.NewReader("file contents")))
		require.NoError(t, p.SubmitResult(ctx, "sample", "sha256:abc", out, []string{"group1"}))
	}

	ids0Exists, err := blob.Exists(ctx, "results", ids[0]+"/out.txt")
	require.NoError(t, err)
	assert.False(t, ids0Exists, "the oldest result's blob must be deleted once it's pruned from the only group referencing it")

	ids3Exists, err := blob.Exists(ctx, "results", ids[3]+"/out.txt")
	require.NoError(t, err)
	assert.True(t, ids3Exists, "a result still within the retention window must keep its blob")

	remaining, err := db.Results().GetIDs(ctx, "sample", "sha256:abc", []string{"group1"}, nil, true)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

// TestSubmitResultKeepsBlobVisibleThroughAnotherGroup confirms a result
// pruned out of one group's retention window stays intact as long as
// another group's stream row still references it.
func TestSubmitResultKeepsBlobVisibleThroughAnotherGroup(t *testing.T) {
	ctx := context.Background()
	p, db, blob := newTestPipeline(t, 1)

	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	shared := models.Output{
		ID:          "00000000-0000-0000-0000-0000000000aa",
		Tool:        "harvest",
		Uploaded:    base,
		Result:      []byte(`{}`),
		ResultFiles: []string{"out.txt"},
		Display:     models.DisplayJSON,
	}
	require.NoError(t, blob.PutAt(ctx, "results", shared.ID+"/out.txt", strings.NewReader("contents")))
	require.NoError(t, p.SubmitResult(ctx, "sample", "sha256:abc", shared, []string{"group1", "group2"}))

	newer := models.Output{
		ID:       "00000000-0000-0000-0000-0000000000bb",
		Tool:     "harvest",
		Uploaded: base.Add(time.Hour),
		Result:   []byte(`{}`),
		Display:  models.DisplayJSON,
	}
	require.NoError(t, p.SubmitResult(ctx, "sample", "sha256:abc", newer, []string{"group1"}))

	exists, err := blob.Exists(ctx, "results", shared.ID+"/out.txt")
	require.NoError(t, err)
	assert.True(t, exists, "group2's stream row still references the output, so its blob must survive")

	outs, err := db.Results().Get(ctx, []string{shared.ID})
	require.NoError(t, err)
	assert.Contains(t, outs, shared.ID)
}

// TestCreateAndDeleteTagPublishesExactlyOnce confirms CreateTags/DeleteTag
// persist through pkg/columnar and publish through pkg/search without
// erroring, matching spec.md §8's tag delete consistency property.
func TestCreateAndDeleteTagPublishesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	p, db, _ := newTestPipeline(t, 10)

	earliest := map[string]time.Time{"group1": time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, p.CreateTags(ctx, "sample", "sha256:abc", map[string][]string{"OS": {"Linux"}}, earliest))

	got, err := db.Tags().Get(ctx, "sample", "sha256:abc", []string{"group1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "OS", got[0].TagKey)

	require.NoError(t, p.DeleteTag(ctx, "sample", "group1", "sha256:abc", "OS", "Linux"))

	got, err = db.Tags().Get(ctx, "sample", "sha256:abc", []string{"group1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
