// Package backup implements Thorium's partition-range streaming
// backup/restore (C8): a worker is handed one columnar partition key at a
// time, streams its rows in clustered order, rolls a SHA-256 over the
// whole partition, and packs the result into an archive file alongside a
// map file of fixed-size records so a restore can seek straight to any
// partition without replaying the ones before it (spec.md §4.6).
//
// The original Thorium backs this with Scylla token ranges on a
// clustering partition key; this port's columnar store (pkg/columnar) is
// Postgres, so a "partition" here is a (kind, group, year, bucket) tuple —
// the same unit pkg/columnar already clusters output_streams rows by —
// rather than a token range (DESIGN.md).
package backup

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// recordSize is the fixed width of one PartitionRecord, matching the
// original's 96-byte rkyv-serialized map record. The exact field layout
// isn't recoverable from the retrieved Rust source (DESIGN.md), so this
// is a from-scratch layout sized to spec.md's {offset, length,
// partition-hash, sha256} description plus a row count, useful for
// restore progress reporting, and 8 reserved bytes for future use.
const recordSize = 96

// PartitionRecord is one partition's entry in an archive's map file: where
// its bytes live in the paired data file, how many rows it holds, which
// partition key hashed to produce it, and the rolling SHA-256 over its
// packed bytes.
type PartitionRecord struct {
	Offset        uint64
	Length        uint64
	RowCount      uint64
	PartitionHash [32]byte
	SHA256        [32]byte
}

// MarshalBinary encodes a PartitionRecord to its fixed 96-byte wire form.
func (r PartitionRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:8], r.Offset)
	binary.BigEndian.PutUint64(buf[8:16], r.Length)
	binary.BigEndian.PutUint64(buf[16:24], r.RowCount)
	copy(buf[24:56], r.PartitionHash[:])
	copy(buf[56:88], r.SHA256[:])
	// buf[88:96] is reserved, left zero.
	return buf, nil
}

// UnmarshalBinary decodes a 96-byte map file record.
func (r *PartitionRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) != recordSize {
		return fmt.Errorf("backup: partition record must be %d bytes, got %d", recordSize, len(buf))
	}
	r.Offset = binary.BigEndian.Uint64(buf[0:8])
	r.Length = binary.BigEndian.Uint64(buf[8:16])
	r.RowCount = binary.BigEndian.Uint64(buf[16:24])
	copy(r.PartitionHash[:], buf[24:56])
	copy(r.SHA256[:], buf[56:88])
	return nil
}

// partitionHash identifies a (kind, group, year, bucket) partition key,
// independent of its contents, so a map file entry can be matched back to
// the partition it came from without re-reading the data file.
func partitionHash(p PartitionKey) [32]byte {
	s := fmt.Sprintf("%s/%s/%d/%d", p.Kind, p.Group, p.Year, p.Bucket)
	return sha256.Sum256([]byte(s))
}
