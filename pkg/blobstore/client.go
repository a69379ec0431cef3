// Package blobstore implements Thorium's blob store (C3): samples keyed by
// their sha256 digest, plus result files, repo archives and ephemeral files
// under caller-chosen keys, stored in S3-compatible buckets.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// sharedHTTPClient pools connections across every Client so repeated
// sample/result uploads don't pay a fresh TCP + TLS handshake each time.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Config holds S3-compatible endpoint settings.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string

	SamplesBucket string
	ResultsBucket string
	ReposBucket   string
}

// Client wraps an S3 client plus an upload/download manager, one bucket
// set per blob category (samples, result files, repo archives).
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	cfg      Config
}

// New builds a blob store client against a custom S3-compatible
// endpoint, grounded on the pack's Hetzner/MinIO-style static endpoint
// resolution pattern: a fixed URL and static credentials rather than the
// IMDS-based discovery AWS S3 proper would use.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = sharedHTTPClient
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:       client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
	}, nil
}

// NewFromS3 wraps a pre-constructed *s3.Client, used by tests against a
// local MinIO/localstack instance.
func NewFromS3(s3c *s3.Client, cfg Config) *Client {
	return &Client{s3: s3c, uploader: manager.NewUploader(s3c), cfg: cfg}
}

// bucketFor maps a blob kind onto its configured bucket name.
func (c *Client) bucketFor(kind string) (string, error) {
	switch kind {
	case "samples":
		return c.cfg.SamplesBucket, nil
	case "results":
		return c.cfg.ResultsBucket, nil
	case "repos":
		return c.cfg.ReposBucket, nil
	default:
		return "", fmt.Errorf("blobstore: unknown blob kind %q", kind)
	}
}

// Sha256Reader hashes r as it is read, so callers can stream an upload
// and learn the content sha256 in the same pass instead of buffering the
// whole body first.
type Sha256Reader struct {
	r io.Reader
	h hash.Hash
}

// NewSha256Reader wraps r with a running sha256 digest.
func NewSha256Reader(r io.Reader) *Sha256Reader {
	return &Sha256Reader{r: r, h: sha256.New()}
}

func (s *Sha256Reader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		_, _ = s.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the lowercase hex sha256 digest of everything read so far.
// Call only after the underlying reader has been fully consumed.
func (s *Sha256Reader) Sum() string {
	return hex.EncodeToString(s.h.Sum(nil))
}
