package agent

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRepoArchive(t *testing.T, commit string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		hdr := &tar.Header{
			Name: commit + "/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestUntarIntoExtractsFilesAndStripsCommitPrefix(t *testing.T) {
	archive := buildRepoArchive(t, "abc123", map[string]string{
		"main.go":        "package main",
		"sub/helper.go":  "package sub",
	})
	dest := t.TempDir()

	commit, err := untarInto(archive, dest)
	require.NoError(t, err)
	assert.Equal(t, "abc123", commit)

	data, err := os.ReadFile(filepath.Join(dest, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "sub", "helper.go"))
	require.NoError(t, err)
	assert.Equal(t, "package sub", string(data))
}

func TestSafeJoinRejectsEscapingEntries(t *testing.T) {
	_, err := safeJoin("/tmp/repo", "../../etc/passwd")
	assert.Error(t, err)
}

func TestSafeJoinAllowsNestedEntries(t *testing.T) {
	got, err := safeJoin("/tmp/repo", "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/repo", "sub", "file.txt"), got)
}
