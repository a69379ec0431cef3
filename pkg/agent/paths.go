package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

// isolate rewrites a shared output path into one scoped to this job,
// matching pkg/reactor's isolate() exactly (spec.md §4.4 "Isolation rule")
// so the reactor's purge-on-cleanup and the agent's own writes agree on
// where a job's results file/result-files dir/tags file/children dir live.
// Duplicated rather than imported since pkg/reactor keeps it unexported and
// the two packages otherwise share no dependency (DESIGN.md).
func isolate(raw, jobID string) string {
	if raw == "" {
		return ""
	}
	if filepath.Clean(raw) == "/tmp/thorium" {
		return filepath.Join(raw, jobID)
	}
	parent, name := filepath.Split(raw)
	return filepath.Join(parent, jobID, name)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("agent: creating dir for %s: %w", path, err)
	}
	return nil
}
