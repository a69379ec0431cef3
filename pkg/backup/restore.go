package backup

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/models"
)

// RestoreWorker replays archive file pairs written by BackupWorker back
// into the columnar store, one partition record at a time.
type RestoreWorker struct {
	results *columnar.Results
	size    models.PartitionSize
}

// NewRestoreWorker builds a RestoreWorker over a columnar client's
// Results repository, reusing Results.Create exactly as the live agent
// path does rather than re-deriving the insert statements (DESIGN.md).
func NewRestoreWorker(db *columnar.Client, size models.PartitionSize) *RestoreWorker {
	return &RestoreWorker{results: db.Results(), size: size}
}

// RestoreDir replays every *.map/*.data archive pair found directly under
// dir, returning the total number of rows restored.
func (w *RestoreWorker) RestoreDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("backup: listing archive dir %s: %w", dir, err)
	}

	total := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".map") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".map")
		n, err := w.restoreArchive(ctx, filepath.Join(dir, name))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (w *RestoreWorker) restoreArchive(ctx context.Context, base string) (int, error) {
	mapBytes, err := os.ReadFile(base + ".map")
	if err != nil {
		return 0, fmt.Errorf("backup: reading map file %s.map: %w", base, err)
	}
	if len(mapBytes)%recordSize != 0 {
		return 0, fmt.Errorf("backup: map file %s.map has a truncated record", base)
	}

	dataFile, err := os.Open(base + ".data")
	if err != nil {
		return 0, fmt.Errorf("backup: opening data file %s.data: %w", base, err)
	}
	defer dataFile.Close()

	total := 0
	for off := 0; off < len(mapBytes); off += recordSize {
		var rec PartitionRecord
		if err := rec.UnmarshalBinary(mapBytes[off : off+recordSize]); err != nil {
			return total, err
		}

		buf := make([]byte, rec.Length)
		if _, err := dataFile.ReadAt(buf, int64(rec.Offset)); err != nil {
			return total, fmt.Errorf("backup: reading partition bytes at offset %d: %w", rec.Offset, err)
		}
		if sum := sha256.Sum256(buf); sum != rec.SHA256 {
			return total, fmt.Errorf("backup: partition at offset %d failed checksum verification", rec.Offset)
		}

		var rows []Row
		if err := json.Unmarshal(buf, &rows); err != nil {
			return total, fmt.Errorf("backup: decoding partition at offset %d: %w", rec.Offset, err)
		}
		for _, row := range rows {
			if err := w.results.Create(ctx, row.Kind, row.Key, row.Out, []string{row.Group}, w.size); err != nil {
				return total, fmt.Errorf("backup: restoring output %s: %w", row.Out.ID, err)
			}
			total++
		}
	}
	return total, nil
}
