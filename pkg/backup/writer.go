package backup

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// flushThreshold is how much pending partition data accumulates before a
// write to disk, mirroring new_backup.rs's 1 MiB PendingArchive::bytes
// check.
const flushThreshold = 1 << 20 // 1 MiB

// archiveSplitThreshold is how large a single archive file pair is allowed
// to grow before ArchiveWriter rolls over to a fresh pair, matching
// new_backup.rs's 10 GiB ArchiveWriter::archive split.
const archiveSplitThreshold = 10 << 30 // 10 GiB

// pending holds one partition's packed bytes plus its not-yet-flushed map
// record (Offset is filled in once the record is actually written).
type pending struct {
	data   []byte
	record PartitionRecord
}

// ArchiveWriter packs partition blobs into a data file paired with a map
// file of fixed PartitionRecord entries, mirroring new_backup.rs's
// ArchiveWriter: buffer partitions in memory, flush once pending bytes
// cross flushThreshold, and split to a new archive file pair once the
// current one crosses archiveSplitThreshold.
type ArchiveWriter struct {
	dir string

	mu           sync.Mutex
	name         string
	dataFile     *os.File
	mapFile      *os.File
	written      uint64
	pending      []pending
	pendingBytes uint64

	// OnFlush, if set, is called after each flush with the number of
	// partitions and bytes just written to disk, for progress reporting.
	OnFlush func(partitions int, bytes int64)
}

// NewArchiveWriter opens a fresh archive file pair under dir.
func NewArchiveWriter(dir string) (*ArchiveWriter, error) {
	w := &ArchiveWriter{dir: dir}
	if err := w.openHandles(); err != nil {
		return nil, err
	}
	return w, nil
}

// openHandles picks a random archive name and creates its data+map files,
// retrying on a name collision exactly as new_backup.rs's open_handles
// does for its UUID-named archives.
func (w *ArchiveWriter) openHandles() error {
	for {
		name := uuid.New().String()
		dataPath := filepath.Join(w.dir, name+".data")
		mapPath := filepath.Join(w.dir, name+".map")

		dataFile, err := os.OpenFile(dataPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return fmt.Errorf("backup: creating archive data file: %w", err)
		}
		mapFile, err := os.OpenFile(mapPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			dataFile.Close()
			os.Remove(dataPath)
			if os.IsExist(err) {
				continue
			}
			return fmt.Errorf("backup: creating archive map file: %w", err)
		}

		w.name = name
		w.dataFile = dataFile
		w.mapFile = mapFile
		w.written = 0
		return nil
	}
}

// Add packs one partition's bytes into the writer, flushing to disk once
// flushThreshold bytes of pending data have accumulated.
func (w *ArchiveWriter) Add(key PartitionKey, rowCount uint64, data []byte) error {
	sum := sha256.Sum256(data)
	rec := PartitionRecord{
		Length:        uint64(len(data)),
		RowCount:      rowCount,
		PartitionHash: partitionHash(key),
		SHA256:        sum,
	}

	w.mu.Lock()
	w.pending = append(w.pending, pending{data: data, record: rec})
	w.pendingBytes += uint64(len(data))
	shouldFlush := w.pendingBytes >= flushThreshold
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush()
	}
	return nil
}

// Flush writes every pending partition's data and map record to disk,
// rolling to a new archive file pair if this one has grown past
// archiveSplitThreshold.
func (w *ArchiveWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *ArchiveWriter) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}

	var dataBuf, mapBuf bytes.Buffer
	items := 0
	for i := range w.pending {
		p := &w.pending[i]
		p.record.Offset = w.written + uint64(dataBuf.Len())
		dataBuf.Write(p.data)
		recBytes, err := p.record.MarshalBinary()
		if err != nil {
			return err
		}
		mapBuf.Write(recBytes)
		items++
	}

	if _, err := w.dataFile.Write(dataBuf.Bytes()); err != nil {
		return fmt.Errorf("backup: writing archive data: %w", err)
	}
	if _, err := w.mapFile.Write(mapBuf.Bytes()); err != nil {
		return fmt.Errorf("backup: writing archive map: %w", err)
	}

	flushedBytes := int64(dataBuf.Len())
	w.written += uint64(dataBuf.Len())
	w.pending = w.pending[:0]
	w.pendingBytes = 0

	if w.OnFlush != nil {
		w.OnFlush(items, flushedBytes)
	}

	if w.written >= archiveSplitThreshold {
		if err := w.closeHandles(); err != nil {
			return err
		}
		return w.openHandles()
	}
	return nil
}

func (w *ArchiveWriter) closeHandles() error {
	if err := w.dataFile.Close(); err != nil {
		return fmt.Errorf("backup: closing archive data file: %w", err)
	}
	if err := w.mapFile.Close(); err != nil {
		return fmt.Errorf("backup: closing archive map file: %w", err)
	}
	return nil
}

// Close flushes any remaining pending partitions and closes the current
// archive file pair.
func (w *ArchiveWriter) Close() error {
	w.mu.Lock()
	if err := w.flushLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	return w.closeHandles()
}
