package reactor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolateSharedTmpThoriumAppendsJobID(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/thorium", "job-1"), isolate("/tmp/thorium", "job-1"))
}

func TestIsolateOtherPathInsertsJobIDBeforeBasename(t *testing.T) {
	got := isolate("/data/results/out.json", "job-1")
	assert.Equal(t, filepath.Join("/data/results", "job-1", "out.json"), got)
}

func TestIsolateEmptyPathStaysEmpty(t *testing.T) {
	assert.Equal(t, "", isolate("", "job-1"))
}

func TestPurgePathRemovesJobScopedParentOnly(t *testing.T) {
	root := t.TempDir()
	jobDir := filepath.Join(root, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "out.json"), []byte("{}"), 0o644))
	sibling := filepath.Join(root, "other")
	require.NoError(t, os.MkdirAll(sibling, 0o755))

	require.NoError(t, purgePath(filepath.Join(jobDir, "out.json")))

	_, err := os.Stat(jobDir)
	assert.True(t, os.IsNotExist(err), "the job-scoped directory must be removed")
	_, err = os.Stat(sibling)
	assert.NoError(t, err, "sibling directories outside the job scope must survive")
}

func TestPurgePathOutsideSharedTmpThoriumRemovesParent(t *testing.T) {
	root := t.TempDir()
	isolated := filepath.Join(root, "tmp-thorium-stand-in")
	require.NoError(t, os.MkdirAll(isolated, 0o755))
	// purgePath only special-cases the literal "/tmp/thorium" string, so this
	// exercises the general (non-special-cased) branch against a tempdir.
	require.NoError(t, purgePath(filepath.Join(isolated, "child")))
	_, err := os.Stat(isolated)
	assert.True(t, os.IsNotExist(err))
}

func TestPurgePathEmptyIsNoop(t *testing.T) {
	assert.NoError(t, purgePath(""))
}
