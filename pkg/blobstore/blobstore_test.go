package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
	testRegion    = "us-east-1"
	srcBucket     = "samples"
	dstBucket     = "backup"
)

// newTestClient starts a MinIO container and pre-creates both buckets
// CopyTo needs, mirroring the pattern in pkg/ingestion's own MinIO
// harness (itself grounded on evalgo-org-eve/storage/
// s3aws_integration_test.go).
func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
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

	require.NoError(t, createBucket(ctx, endpoint, srcBucket))
	require.NoError(t, createBucket(ctx, endpoint, dstBucket))

	client, err := New(ctx, Config{
		Endpoint:      endpoint,
		Region:        testRegion,
		AccessKey:     testAccessKey,
		SecretKey:     testSecretKey,
		SamplesBucket: srcBucket,
		ResultsBucket: srcBucket,
		ReposBucket:   srcBucket,
	})
	require.NoError(t, err)
	return client
}

func createBucket(ctx context.Context, endpoint, bucket string) error {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(testRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(testAccessKey, testSecretKey, "")),
	)
	if err != nil {
		return err
	}
	s3c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	_, err = s3c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	return err
}

func TestPutIsContentAddressedAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	content := []byte("thorium sample bytes")
	digest, err := c.Put(ctx, "samples", bytes.NewReader(content))
	require.NoError(t, err)
	assert.NotEmpty(t, digest)

	rc, err := c.Get(ctx, "samples", digest)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutAtExistsDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.PutAt(ctx, "results", "job-1/out.txt", bytes.NewReader([]byte("result"))))

	exists, err := c.Exists(ctx, "results", "job-1/out.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "results", "job-1/out.txt"))

	exists, err = c.Exists(ctx, "results", "job-1/out.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Get(ctx, "samples", "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCopyToMaterializesObjectInDestinationBucket(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.PutAt(ctx, "repos", "archive.tar.gz", bytes.NewReader([]byte("tarball bytes"))))
	require.NoError(t, c.CopyTo(ctx, "repos", "archive.tar.gz", dstBucket))

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(dstBucket), Key: aws.String("archive.tar.gz")})
	require.NoError(t, err)
	defer out.Body.Close()
	got, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "tarball bytes", string(got))
}
