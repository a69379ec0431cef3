package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, dir string) []PartitionRecord {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var records []PartitionRecord
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".map" {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		for off := 0; off < len(buf); off += recordSize {
			var rec PartitionRecord
			require.NoError(t, rec.UnmarshalBinary(buf[off:off+recordSize]))
			records = append(records, rec)
		}
	}
	return records
}

func TestArchiveWriterAddAndFlush(t *testing.T) {
	dir := t.TempDir()
	w, err := NewArchiveWriter(dir)
	require.NoError(t, err)

	key := PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 1}
	require.NoError(t, w.Add(key, 3, []byte("partition-one-bytes")))
	require.NoError(t, w.Close())

	records := readArchive(t, dir)
	require.Len(t, records, 1)
	assert.EqualValues(t, 0, records[0].Offset)
	assert.EqualValues(t, len("partition-one-bytes"), records[0].Length)
	assert.EqualValues(t, 3, records[0].RowCount)
	assert.Equal(t, partitionHash(key), records[0].PartitionHash)
}

func TestArchiveWriterFlushesAtThreshold(t *testing.T) {
	dir := t.TempDir()
	w, err := NewArchiveWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	flushed := 0
	w.OnFlush = func(partitions int, bytes int64) { flushed++ }

	key := PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 1}
	big := make([]byte, flushThreshold)
	require.NoError(t, w.Add(key, 1, big))

	assert.Equal(t, 1, flushed)
}

func TestArchiveWriterMultiplePartitionsShareOneFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewArchiveWriter(dir)
	require.NoError(t, err)

	keyA := PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 1}
	keyB := PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 2}
	require.NoError(t, w.Add(keyA, 1, []byte("aaa")))
	require.NoError(t, w.Add(keyB, 2, []byte("bbbb")))
	require.NoError(t, w.Close())

	records := readArchive(t, dir)
	require.Len(t, records, 2)
	assert.EqualValues(t, 0, records[0].Offset)
	assert.EqualValues(t, 3, records[0].Length)
	assert.EqualValues(t, 3, records[1].Offset)
	assert.EqualValues(t, 4, records[1].Length)
}
