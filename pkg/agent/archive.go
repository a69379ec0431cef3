package agent

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// untarInto extracts a gzipped tar archive into dest, returning the commit
// the archive was built at. No library in the example pack wraps tar/gzip
// extraction, so this uses archive/tar + compress/gzip directly (DESIGN.md).
// Repos are archived upstream by an out-of-scope ingestion path that embeds
// the resolved commit as the archive's top-level directory name
// ("<commit>/...", mirroring how git archive --prefix works); that name is
// stripped on extraction and returned as the commit.
func untarInto(archive []byte, dest string) (string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return "", fmt.Errorf("agent: opening repo archive: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("agent: creating repo dir %s: %w", dest, err)
	}

	var commit string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("agent: reading repo archive: %w", err)
		}

		name := hdr.Name
		if top, rest, ok := strings.Cut(name, "/"); ok {
			if commit == "" {
				commit = top
			}
			name = rest
		}
		if name == "" {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return "", err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("agent: creating repo dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fmt.Errorf("agent: creating repo dir %s: %w", filepath.Dir(target), err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return "", fmt.Errorf("agent: creating repo file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return "", fmt.Errorf("agent: writing repo file %s: %w", target, err)
			}
			f.Close()
		default:
			// symlinks and other types aren't expected from the archiving
			// path; skip rather than fail the whole job over them.
		}
	}
	return commit, nil
}

// safeJoin joins name onto dir, rejecting any path that would escape dir
// via ".." segments (a malicious or corrupt archive entry).
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("agent: archive entry %q escapes destination", name)
	}
	return target, nil
}
