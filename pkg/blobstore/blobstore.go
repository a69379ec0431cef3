package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned by Get when the object doesn't exist.
var ErrNotFound = errors.New("blobstore: object not found")

// Put spools body to a temp file while hashing it, then uploads under the
// resulting content sha256. The digest can only be known once the whole
// body has been read, so content-addressed uploads always spool first
// rather than streaming straight into the PUT the way PutAt does for a
// pre-known key.
func (c *Client) Put(ctx context.Context, kind string, body io.Reader) (string, error) {
	bucket, err := c.bucketFor(kind)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "thorium-blob-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: staging temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hashed := NewSha256Reader(body)
	if _, err := io.Copy(tmp, hashed); err != nil {
		return "", fmt.Errorf("blobstore: spooling upload: %w", err)
	}
	digest := hashed.Sum()

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("blobstore: rewinding staged upload: %w", err)
	}
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(digest),
		Body:   tmp,
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: upload %s/%s: %w", bucket, digest, err)
	}
	return digest, nil
}

// PutAt uploads body under an already-known key rather than deriving one
// from content, used for result files and ephemeral files, which are
// named rather than content-addressed.
func (c *Client) PutAt(ctx context.Context, kind, key string, body io.Reader) error {
	bucket, err := c.bucketFor(kind)
	if err != nil {
		return err
	}
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("blobstore: upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get streams the object for (kind, key). The caller must close the
// returned reader.
func (c *Client) Get(ctx context.Context, kind, key string) (io.ReadCloser, error) {
	bucket, err := c.bucketFor(kind)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: get %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// Delete removes the object for (kind, key). Deleting an object that
// doesn't exist is not an error, matching S3's own delete semantics.
func (c *Client) Delete(ctx context.Context, kind, key string) error {
	bucket, err := c.bucketFor(kind)
	if err != nil {
		return err
	}
	_, err = c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// CopyTo server-side copies the object for (kind, key) into dstBucket
// under the same key, used by restore to repopulate a fresh bucket from
// objects enumerated off the already-restored columnar rows (spec.md
// §4.6: "Blob-store objects are enumerated from the restored columnar
// side ... and uploaded to a fresh bucket").
func (c *Client) CopyTo(ctx context.Context, kind, key, dstBucket string) error {
	bucket, err := c.bucketFor(kind)
	if err != nil {
		return err
	}
	_, err = c.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(key),
		CopySource: aws.String(bucket + "/" + key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: copy %s/%s to %s: %w", bucket, key, dstBucket, err)
	}
	return nil
}

// Exists reports whether (kind, key) is present without downloading it.
func (c *Client) Exists(ctx context.Context, kind, key string) (bool, error) {
	bucket, err := c.bucketFor(kind)
	if err != nil {
		return false, err
	}
	_, err = c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: head %s/%s: %w", bucket, key, err)
	}
	return true, nil
}
