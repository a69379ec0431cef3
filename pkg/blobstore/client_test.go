package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSha256ReaderMatchesDirectHash(t *testing.T) {
	content := []byte("thorium sample bytes")
	want := sha256.Sum256(content)

	r := NewSha256Reader(bytes.NewReader(content))
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(want[:]), r.Sum())
}

func TestBucketForKnownKinds(t *testing.T) {
	c := &Client{cfg: Config{SamplesBucket: "samples", ResultsBucket: "results", ReposBucket: "repos"}}

	b, err := c.bucketFor("samples")
	require.NoError(t, err)
	assert.Equal(t, "samples", b)

	b, err = c.bucketFor("results")
	require.NoError(t, err)
	assert.Equal(t, "results", b)

	_, err = c.bucketFor("unknown")
	assert.Error(t, err)
}
