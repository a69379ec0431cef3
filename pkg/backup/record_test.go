package backup

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionRecordRoundTrip(t *testing.T) {
	want := PartitionRecord{
		Offset:        1234,
		Length:        5678,
		RowCount:      42,
		PartitionHash: sha256.Sum256([]byte("sample/g/2026/1")),
		SHA256:        sha256.Sum256([]byte("partition bytes")),
	}

	buf, err := want.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, recordSize)

	var got PartitionRecord
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, want, got)
}

func TestPartitionRecordUnmarshalRejectsWrongSize(t *testing.T) {
	var r PartitionRecord
	err := r.UnmarshalBinary(make([]byte, recordSize-1))
	assert.Error(t, err)
}

func TestPartitionHashIsStableAndDistinct(t *testing.T) {
	a := partitionHash(PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 1})
	b := partitionHash(PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 1})
	c := partitionHash(PartitionKey{Kind: "sample", Group: "g", Year: 2026, Bucket: 2})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
