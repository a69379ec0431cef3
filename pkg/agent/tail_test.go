package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTailReadsAppendedLinesIncrementally(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

	tail, err := newFileTail(path)
	require.NoError(t, err)
	defer tail.Close()

	lines, err := tail.readLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, lines)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("line three\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines, err = tail.readLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"line three"}, lines)
}

func TestFileTailBuffersPartialLineUntilFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("complete\nhalf-line"), 0o644))

	tail, err := newFileTail(path)
	require.NoError(t, err)
	defer tail.Close()

	lines, err := tail.readLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, lines)

	assert.Equal(t, []string{"half-line"}, tail.flush())
	assert.Nil(t, tail.flush(), "flush must only return the carried line once")
}

func TestFileTailReadLinesWithNoNewDataReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o644))

	tail, err := newFileTail(path)
	require.NoError(t, err)
	defer tail.Close()

	_, err = tail.readLines()
	require.NoError(t, err)

	lines, err := tail.readLines()
	require.NoError(t, err)
	assert.Nil(t, lines)
}
