package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolateSharedTmpThoriumAppendsJobID(t *testing.T) {
	got := isolate("/tmp/thorium", "job-1")
	assert.Equal(t, filepath.Join("/tmp/thorium", "job-1"), got)
}

func TestIsolateOtherPathInsertsJobIDBeforeBasename(t *testing.T) {
	got := isolate("/data/results.json", "job-1")
	assert.Equal(t, filepath.Join("/data", "job-1", "results.json"), got)
}

func TestIsolateEmptyPathStaysEmpty(t *testing.T) {
	assert.Equal(t, "", isolate("", "job-1"))
}

func TestEnsureDirCreatesParent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deep", "file.txt")

	require.NoError(t, ensureDir(target))

	info, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
